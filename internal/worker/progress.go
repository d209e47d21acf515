package worker

import (
	"context"
	"log"
	"strings"
	"time"
)

// Stages recorded for every export job.
const (
	stageStart    = "export.start"
	stageEvaluate = "export.evaluate"
	stageEncode   = "export.encode"
	stageUpload   = "export.upload"
	stageBlocked  = "export.blocked"
	stageDone     = "export.done"
)

func derivePct(stage string) int {
	switch {
	case strings.HasSuffix(stage, "start"):
		return 5
	case strings.HasSuffix(stage, "evaluate"):
		return 30
	case strings.HasSuffix(stage, "encode"):
		return 60
	case strings.HasSuffix(stage, "upload"):
		return 80
	case strings.HasSuffix(stage, "done"), strings.HasSuffix(stage, "blocked"):
		return 100
	default:
		return 50
	}
}

// progress writes a stage as both the job's progress and an event row. The
// event rows are the heartbeat stale-job recovery looks at, so failures are
// logged and otherwise ignored.
func (r *Runner) progress(ctx context.Context, jobID, stage, detail string) {
	pct := derivePct(stage)
	if err := r.jobs.UpdateProgress(ctx, jobID, pct, stage+": "+detail); err != nil {
		log.Printf("job %s: update progress failed: %v", jobID, err)
	}
	if err := r.jobs.InsertEvent(ctx, jobID, r.now().UTC().Truncate(time.Millisecond), stage, detail, &pct); err != nil {
		log.Printf("job %s: insert event failed: %v", jobID, err)
	}
}
