package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/yourorg/evidence-worker/internal/config"
	"github.com/yourorg/evidence-worker/internal/db"
	"github.com/yourorg/evidence-worker/internal/evidence"
	"github.com/yourorg/evidence-worker/internal/export"
	"github.com/yourorg/evidence-worker/internal/truth"
)

// JobQueue is the export_jobs table as the runner uses it.
type JobQueue interface {
	AcquireNextQueued(ctx context.Context, workerID string) (*db.Job, error)
	UpdateProgress(ctx context.Context, id string, pct int, msg string) error
	InsertEvent(ctx context.Context, jobID string, ts time.Time, stage, detail string, pct *int) error
	MarkDone(ctx context.Context, id string, a db.ExportArtifact) error
	MarkBlocked(ctx context.Context, id, validityStatus string, reasons []string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	RequeueStaleRunning(ctx context.Context, idleFor time.Duration) ([]string, error)
}

type ObjectStore interface {
	PutBytes(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

type Exporter interface {
	BuildExport(ctx context.Context, req evidence.ExportRequest) (export.Envelope, error)
}

const (
	uploadAttempts = 4
	markAttempts   = 3
)

type Runner struct {
	cfg      config.Config
	jobs     JobQueue
	objects  ObjectStore
	exporter Exporter
	workerID string

	now       func() time.Time
	baseDelay time.Duration
}

func NewRunner(cfg config.Config, jobs JobQueue, objects ObjectStore, exporter Exporter) *Runner {
	return &Runner{
		cfg:       cfg,
		jobs:      jobs,
		objects:   objects,
		exporter:  exporter,
		workerID:  uuid.NewString(),
		now:       time.Now,
		baseDelay: 200 * time.Millisecond,
	}
}

func (r *Runner) WorkerID() string { return r.workerID }

// RecoverStaleJobs re-queues jobs left running by a worker that died.
func (r *Runner) RecoverStaleJobs(ctx context.Context) {
	ids, err := r.jobs.RequeueStaleRunning(ctx, r.cfg.StaleJobTimeout)
	if err != nil {
		log.Printf("recover stale jobs: %v", err)
		return
	}
	for _, id := range ids {
		log.Printf("job %s: re-queued after %s without heartbeat", id, r.cfg.StaleJobTimeout)
	}
}

func exportKey(tenantID, jobID string) string {
	return fmt.Sprintf("exports/%s/%s.json", tenantID, jobID)
}

func (r *Runner) processJob(ctx context.Context, j *db.Job) error {
	log.Printf("job %s: starting (tenant=%s snapshot=%s ack=%v)", j.ID, j.TenantID, j.SnapshotID, j.OperatorAcknowledged)
	r.progress(ctx, j.ID, stageStart, "worker "+r.workerID)

	req := evidence.ExportRequest{
		ExportID:             j.ID,
		TenantID:             j.TenantID,
		SnapshotID:           j.SnapshotID,
		OperatorAcknowledged: j.OperatorAcknowledged,
		Now:                  r.now().UTC(),
	}
	if j.WindowStart != nil {
		req.WindowStart = *j.WindowStart
	}
	if j.WindowEnd != nil {
		req.WindowEnd = *j.WindowEnd
	}

	r.progress(ctx, j.ID, stageEvaluate, "snapshot "+j.SnapshotID)
	env, err := r.exporter.BuildExport(ctx, req)
	var blocked *truth.ExportBlockedError
	if errors.As(err, &blocked) {
		log.Printf("job %s: export blocked (%s): %v", j.ID, blocked.Status, blocked.Reasons)
		r.progress(ctx, j.ID, stageBlocked, string(blocked.Status))
		return retry(ctx, markAttempts, r.baseDelay, func() error {
			return r.jobs.MarkBlocked(ctx, j.ID, string(blocked.Status), blocked.Reasons)
		})
	}
	if err != nil {
		return fmt.Errorf("build export: %w", err)
	}

	r.progress(ctx, j.ID, stageEncode, string(env.TruthMetadata.ValidityStatus))
	raw, err := export.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	key := exportKey(j.TenantID, j.ID)
	r.progress(ctx, j.ID, stageUpload, key)
	err = retry(ctx, uploadAttempts, r.baseDelay, func() error {
		return r.objects.PutBytes(ctx, r.cfg.ExportsBucket, key, raw, "application/json")
	})
	if err != nil {
		log.Printf("job %s: upload envelope error: %v", j.ID, err)
		return fmt.Errorf("upload envelope: %w", err)
	}

	artifact := db.ExportArtifact{
		Bucket:         r.cfg.ExportsBucket,
		Key:            key,
		ValidityStatus: string(env.TruthMetadata.ValidityStatus),
		TruthHash:      env.TruthMetadata.CanonicalHash,
	}
	if env.BlindSpots != nil {
		artifact.BlindSpotHash = env.BlindSpots.CanonicalHash
	}
	r.progress(ctx, j.ID, stageDone, artifact.ValidityStatus)

	dbctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := retry(dbctx, markAttempts, r.baseDelay, func() error { return r.jobs.MarkDone(dbctx, j.ID, artifact) }); err != nil {
		log.Printf("job %s: mark done error: %v", j.ID, err)
		return fmt.Errorf("mark done: %w", err)
	}
	log.Printf("job %s: completed (status=%s export=%s)", j.ID, artifact.ValidityStatus, key)
	return nil
}

// handle runs one job and records a failure when it does not finish.
func (r *Runner) handle(ctx context.Context, j *db.Job) {
	if err := r.processJob(ctx, j); err != nil {
		log.Printf("job %s: failed: %v", j.ID, err)
		dbctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.jobs.MarkFailed(dbctx, j.ID, err.Error()); err != nil {
			log.Printf("job %s: mark failed error: %v", j.ID, err)
		}
	}
}

func (r *Runner) RunForever(ctx context.Context) error {
	concurrency := r.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	backoff := 500 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		j, err := r.jobs.AcquireNextQueued(ctx, r.workerID)
		if err != nil {
			// no queued jobs or transient error
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			} else {
				backoff = 5 * time.Second
			}
			continue
		}
		backoff = 500 * time.Millisecond

		sem <- struct{}{}
		go func(job *db.Job) {
			defer func() { <-sem }()
			r.handle(ctx, job)
		}(j)
	}
}
