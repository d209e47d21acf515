package db

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yourorg/evidence-worker/internal/model"
	"github.com/yourorg/evidence-worker/internal/store"
)

const batchSize = 100

type Store struct{ Pool *pgxpool.Pool }

var _ store.Store = (*Store)(nil)

func Open(ctx context.Context, url string) (*Store, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: p}, nil
}

func (s *Store) GetSnapshotByID(ctx context.Context, tenantID, id string) (*model.EvidenceSnapshot, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, store.ErrNotFound)
	}
	row := s.Pool.QueryRow(ctx, `
		SELECT id::text, tenant_id, captured_at, snapshot_type, payload_digest, missing_data, payload
		FROM evidence_snapshots
		WHERE tenant_id=$1 AND id=$2::uuid
	`, tenantID, id)
	var (
		snap        model.EvidenceSnapshot
		snapType    string
		missingJSON []byte
		payloadJSON []byte
	)
	if err := row.Scan(&snap.ID, &snap.TenantID, &snap.CapturedAt, &snapType, &snap.PayloadDigest, &missingJSON, &payloadJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("snapshot %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	snap.Type = model.SnapshotType(snapType)
	if err := json.Unmarshal(missingJSON, &snap.Missing); err != nil {
		return nil, fmt.Errorf("decode missing data of snapshot %s: %w", id, err)
	}
	// Numbers stay json.Number so large integers hash exactly as captured.
	dec := json.NewDecoder(bytes.NewReader(payloadJSON))
	dec.UseNumber()
	if err := dec.Decode(&snap.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// ListRunRecords pages with a keyset cursor of the last returned
// (scheduled_at, run_id).
func (s *Store) ListRunRecords(ctx context.Context, tenantID string, filter store.RunFilter, page store.Page) (store.RunPage, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = store.DefaultPageLimit
	}
	afterAt, afterID, err := decodeCursor(page.Cursor)
	if err != nil {
		return store.RunPage{}, err
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT run_id, tenant_id, scheduled_at, completed_at, outcome, failure_reason
		FROM snapshot_runs
		WHERE tenant_id=$1
		  AND ($2::timestamptz IS NULL OR scheduled_at >= $2)
		  AND ($3::timestamptz IS NULL OR scheduled_at <= $3)
		  AND ($4::timestamptz IS NULL OR (scheduled_at, run_id) > ($4, $5))
		ORDER BY scheduled_at, run_id
		LIMIT $6
	`, tenantID, optionalTime(filter.From), optionalTime(filter.To), afterAt, afterID, limit+1)
	if err != nil {
		return store.RunPage{}, err
	}
	defer rows.Close()

	out := store.RunPage{Runs: make([]model.SnapshotRunRecord, 0, limit)}
	for rows.Next() {
		var (
			r       model.SnapshotRunRecord
			outcome string
			reason  *string
		)
		if err := rows.Scan(&r.RunID, &r.TenantID, &r.ScheduledAt, &r.CompletedAt, &outcome, &reason); err != nil {
			return store.RunPage{}, err
		}
		r.Outcome = model.RunOutcome(outcome)
		if reason != nil {
			r.FailureReason = *reason
		}
		out.Runs = append(out.Runs, r)
	}
	if err := rows.Err(); err != nil {
		return store.RunPage{}, err
	}
	if len(out.Runs) > limit {
		out.Runs = out.Runs[:limit]
		last := out.Runs[limit-1]
		out.NextCursor = encodeCursor(last.ScheduledAt, last.RunID)
	}
	return out, nil
}

func (s *Store) GetDriftStatus(ctx context.Context, tenantID, snapshotID string, asOf time.Time) (model.DriftStatus, error) {
	if _, err := uuid.Parse(snapshotID); err != nil {
		return model.DriftUnknown, nil
	}
	var status string
	err := s.Pool.QueryRow(ctx, `
		SELECT status
		FROM drift_checks
		WHERE tenant_id=$1 AND snapshot_id=$2::uuid AND checked_at <= $3
		ORDER BY checked_at DESC, id DESC
		LIMIT 1
	`, tenantID, snapshotID, asOf).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DriftUnknown, nil
	}
	if err != nil {
		return model.DriftUnknown, err
	}
	return model.ParseDriftStatus(status), nil
}

func (s *Store) GetInstalledAt(ctx context.Context, tenantID string) (*time.Time, error) {
	var at time.Time
	err := s.Pool.QueryRow(ctx, `SELECT installed_at FROM tenant_installs WHERE tenant_id=$1`, tenantID).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &at, nil
}

// AppendSnapshot inserts a snapshot once. Existing ids are never overwritten.
func (s *Store) AppendSnapshot(ctx context.Context, snap *model.EvidenceSnapshot) error {
	missing := snap.Missing
	if missing == nil {
		missing = []model.MissingDataItem{}
	}
	missingJSON, err := json.Marshal(missing)
	if err != nil {
		return fmt.Errorf("encode missing data: %w", err)
	}
	payloadJSON, err := json.Marshal(snap.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO evidence_snapshots (id, tenant_id, captured_at, snapshot_type, payload_digest, missing_data, payload)
		VALUES ($1::uuid, $2, $3, $4, $5, $6::jsonb, $7::jsonb)
		ON CONFLICT (id) DO NOTHING
	`, snap.ID, snap.TenantID, snap.CapturedAt, coalesceString(string(snap.Type), string(model.SnapshotTypeFull)),
		snap.PayloadDigest, string(missingJSON), string(payloadJSON))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("snapshot %s: %w", snap.ID, store.ErrAlreadyExists)
	}
	return nil
}

// AppendRuns batch-inserts run records in groups of batchSize. Runs whose
// (tenant, run id) already exists are left untouched; the number of rows
// actually inserted is returned.
func (s *Store) AppendRuns(ctx context.Context, runs []model.SnapshotRunRecord) (int64, error) {
	var inserted int64
	for start := 0; start < len(runs); start += batchSize {
		end := start + batchSize
		if end > len(runs) {
			end = len(runs)
		}
		chunk := runs[start:end]

		const colCount = 6
		var sb strings.Builder
		sb.WriteString(`
INSERT INTO snapshot_runs (
  run_id, tenant_id, scheduled_at, completed_at, outcome, failure_reason
) VALUES `)
		args := make([]interface{}, 0, len(chunk)*colCount)
		for i, r := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i*colCount + 1
			sb.WriteString(fmt.Sprintf(
				"($%d, $%d, $%d, $%d, $%d, $%d)",
				base, base+1, base+2, base+3, base+4, base+5,
			))
			args = append(args,
				r.RunID,
				r.TenantID,
				r.ScheduledAt,
				r.CompletedAt,
				string(r.Outcome),
				nullableString(r.FailureReason),
			)
		}
		sb.WriteString(`
ON CONFLICT (tenant_id, run_id) DO NOTHING`)

		tag, err := s.Pool.Exec(ctx, sb.String(), args...)
		if err != nil {
			return inserted, fmt.Errorf("batch insert runs: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

const cursorSep = "|"

func encodeCursor(at time.Time, runID string) string {
	return at.UTC().Format(time.RFC3339Nano) + cursorSep + runID
}

func decodeCursor(c string) (*time.Time, string, error) {
	if c == "" {
		return nil, "", nil
	}
	ts, runID, ok := strings.Cut(c, cursorSep)
	if !ok {
		return nil, "", fmt.Errorf("invalid cursor %q", c)
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, "", fmt.Errorf("invalid cursor %q: %w", c, err)
	}
	return &at, runID, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func coalesceString(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}
