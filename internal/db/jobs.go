package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Job statuses of export_jobs.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusBlocked = "blocked"
	StatusFailed  = "failed"
)

type Job struct {
	ID                   string
	TenantID             string
	SnapshotID           string
	OperatorAcknowledged bool
	WindowStart          *time.Time
	WindowEnd            *time.Time
	Status               string
	WorkerID             *string
}

// ExportArtifact is what a finished job records about its uploaded envelope.
type ExportArtifact struct {
	Bucket         string
	Key            string
	ValidityStatus string
	TruthHash      string
	BlindSpotHash  string
}

type VerifyCandidate struct {
	ID            string
	TenantID      string
	ExportBucket  string
	ExportKey     string
	TruthHash     string
	BlindSpotHash *string
}

func (s *Store) notifyJobChanged(ctx context.Context, id string) {
	_, _ = s.Pool.Exec(ctx, `SELECT pg_notify('export_events', $1)`, id)
}

func (s *Store) InsertEvent(ctx context.Context, jobID string, ts time.Time, stage, detail string, pct *int) error {
	_, err := s.Pool.Exec(ctx, `
        INSERT INTO export_events (job_id, ts, stage, detail, pct)
        VALUES ($1, $2, $3, $4, $5)
    `, jobID, ts, stage, detail, pct)
	return err
}

// AcquireNextQueued claims the oldest queued job. It returns pgx.ErrNoRows
// when the queue is empty.
func (s *Store) AcquireNextQueued(ctx context.Context, workerID string) (*Job, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT id::text, tenant_id, snapshot_id::text, operator_acknowledged, window_start, window_end
		FROM export_jobs
		WHERE status='queued'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`)
	var j Job
	if err := row.Scan(&j.ID, &j.TenantID, &j.SnapshotID, &j.OperatorAcknowledged, &j.WindowStart, &j.WindowEnd); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE export_jobs
		SET status='running', started_at=now(), progress_pct=0, progress_msg='starting',
		    worker_id=$2
		WHERE id=$1
	`, j.ID, workerID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	j.Status = StatusRunning
	j.WorkerID = &workerID
	s.notifyJobChanged(ctx, j.ID)
	return &j, nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, pct int, msg string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE export_jobs
		SET progress_pct=GREATEST(progress_pct, $2),
		    progress_msg=CASE WHEN $2 >= progress_pct THEN $3 ELSE progress_msg END
		WHERE id=$1
		  AND status='running'
	`, id, pct, msg)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE export_jobs
		SET status='failed',
		    finished_at=now(),
		    error_msg=$2,
		    progress_msg=COALESCE(progress_msg, $2)
		WHERE id=$1
		  AND status IN ('queued','running')
	`, id, errMsg)
	if err == nil {
		s.notifyJobChanged(ctx, id)
	}
	return err
}

// MarkBlocked records a refused export together with the reasons the
// operator has to resolve before retrying.
func (s *Store) MarkBlocked(ctx context.Context, id, validityStatus string, reasons []string) error {
	if reasons == nil {
		reasons = []string{}
	}
	reasonsJSON, err := json.Marshal(reasons)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		UPDATE export_jobs
		SET status='blocked',
		    finished_at=now(),
		    validity_status=$2,
		    blocked_reasons=$3::jsonb,
		    progress_msg='export blocked'
		WHERE id=$1
		  AND status='running'
	`, id, validityStatus, string(reasonsJSON))
	if err == nil {
		s.notifyJobChanged(ctx, id)
	}
	return err
}

func (s *Store) MarkDone(ctx context.Context, id string, a ExportArtifact) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE export_jobs
		SET status='done', finished_at=now(),
		    progress_pct=100, progress_msg='completed',
		    export_bucket=$2, export_key=$3, validity_status=$4,
		    truth_hash=$5, blind_spot_hash=$6
		WHERE id=$1
	`, id, a.Bucket, a.Key, a.ValidityStatus, a.TruthHash, nullableString(a.BlindSpotHash))
	if err == nil {
		s.notifyJobChanged(ctx, id)
	}
	return err
}

// RequeueStaleRunning finds jobs stuck in 'running' with no recent heartbeat
// and re-queues them. Used at startup to recover jobs orphaned by crashed
// workers.
func (s *Store) RequeueStaleRunning(ctx context.Context, idleFor time.Duration) ([]string, error) {
	seconds := int64(idleFor.Seconds())
	if seconds <= 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `
		WITH stale AS (
			SELECT j.id
			FROM export_jobs j
			LEFT JOIN LATERAL (
				SELECT MAX(ts) AS last_event_ts
				FROM export_events e
				WHERE e.job_id = j.id
			) ev ON true
			WHERE j.status='running'
			  AND COALESCE(ev.last_event_ts, j.started_at, j.created_at)
			      < now() - ($1::bigint * interval '1 second')
		)
		UPDATE export_jobs j
		SET status='queued',
		    started_at=NULL,
		    worker_id=NULL,
		    progress_pct=0,
		    progress_msg='re-queued: previous worker lost'
		FROM stale
		WHERE j.id = stale.id
		RETURNING j.id::text
	`, seconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
		s.notifyJobChanged(ctx, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListVerificationCandidates returns finished exports not yet re-verified,
// oldest first.
func (s *Store) ListVerificationCandidates(ctx context.Context, limit int) ([]VerifyCandidate, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
SELECT j.id::text, j.tenant_id, j.export_bucket, j.export_key, j.truth_hash, j.blind_spot_hash
FROM export_jobs j
WHERE j.status='done'
  AND j.export_bucket IS NOT NULL
  AND j.export_key IS NOT NULL
  AND j.verified_at IS NULL
ORDER BY COALESCE(j.finished_at, j.created_at), j.id
LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]VerifyCandidate, 0, limit)
	for rows.Next() {
		var c VerifyCandidate
		if err := rows.Scan(&c.ID, &c.TenantID, &c.ExportBucket, &c.ExportKey, &c.TruthHash, &c.BlindSpotHash); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) MarkVerified(ctx context.Context, id string, intact bool, detail string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE export_jobs
		SET verified_at=now(), verified_intact=$2, verify_detail=$3
		WHERE id=$1
	`, id, intact, nullableString(detail))
	if err == nil {
		s.notifyJobChanged(ctx, id)
	}
	return err
}
