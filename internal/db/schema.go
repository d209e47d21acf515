package db

import "context"

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenant_installs (
  tenant_id TEXT PRIMARY KEY,
  installed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence_snapshots (
  id UUID PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  captured_at TIMESTAMPTZ NOT NULL,
  snapshot_type TEXT NOT NULL DEFAULT 'full' CHECK (snapshot_type IN ('light','full')),
  payload_digest TEXT NOT NULL,
  missing_data JSONB NOT NULL DEFAULT '[]'::jsonb,
  payload JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_evidence_snapshots_tenant_captured ON evidence_snapshots (tenant_id, captured_at);

CREATE TABLE IF NOT EXISTS snapshot_runs (
  tenant_id TEXT NOT NULL,
  run_id TEXT NOT NULL,
  scheduled_at TIMESTAMPTZ NOT NULL,
  completed_at TIMESTAMPTZ,
  outcome TEXT NOT NULL CHECK (outcome IN ('successful','partial','failed')),
  failure_reason TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (tenant_id, run_id)
);

CREATE INDEX IF NOT EXISTS idx_snapshot_runs_tenant_sched ON snapshot_runs (tenant_id, scheduled_at, run_id);

CREATE TABLE IF NOT EXISTS drift_checks (
  id BIGSERIAL PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  snapshot_id UUID NOT NULL REFERENCES evidence_snapshots(id),
  checked_at TIMESTAMPTZ NOT NULL,
  status TEXT NOT NULL CHECK (status IN ('NO_DRIFT','DRIFT_DETECTED','UNKNOWN'))
);

CREATE INDEX IF NOT EXISTS idx_drift_checks_snapshot_checked ON drift_checks (tenant_id, snapshot_id, checked_at);

CREATE OR REPLACE FUNCTION reject_evidence_mutation() RETURNS trigger AS $$
BEGIN
  RAISE EXCEPTION '% is append-only', TG_TABLE_NAME;
END;
$$ LANGUAGE plpgsql;

DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'evidence_snapshots_append_only') THEN
    CREATE TRIGGER evidence_snapshots_append_only
    BEFORE UPDATE OR DELETE ON evidence_snapshots
    FOR EACH ROW EXECUTE FUNCTION reject_evidence_mutation();
  END IF;
  IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'snapshot_runs_append_only') THEN
    CREATE TRIGGER snapshot_runs_append_only
    BEFORE UPDATE OR DELETE ON snapshot_runs
    FOR EACH ROW EXECUTE FUNCTION reject_evidence_mutation();
  END IF;
END$$;

CREATE TABLE IF NOT EXISTS export_jobs (
  id UUID PRIMARY KEY,
  status TEXT NOT NULL CHECK (status IN ('queued','running','done','blocked','failed')),
  tenant_id TEXT NOT NULL,
  snapshot_id UUID NOT NULL,
  operator_acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
  window_start TIMESTAMPTZ,
  window_end TIMESTAMPTZ,
  worker_id TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  started_at TIMESTAMPTZ,
  finished_at TIMESTAMPTZ,
  progress_pct INTEGER NOT NULL DEFAULT 0 CHECK (progress_pct BETWEEN 0 AND 100),
  progress_msg TEXT,
  validity_status TEXT,
  blocked_reasons JSONB,
  export_bucket TEXT,
  export_key TEXT,
  truth_hash TEXT,
  blind_spot_hash TEXT,
  error_msg TEXT,
  verified_at TIMESTAMPTZ,
  verified_intact BOOLEAN,
  verify_detail TEXT
);

CREATE INDEX IF NOT EXISTS idx_export_jobs_status_created ON export_jobs (status, created_at);

CREATE TABLE IF NOT EXISTS export_events (
  id BIGSERIAL PRIMARY KEY,
  job_id UUID NOT NULL REFERENCES export_jobs(id) ON DELETE CASCADE,
  ts TIMESTAMPTZ NOT NULL DEFAULT now(),
  stage TEXT NOT NULL,
  detail TEXT NOT NULL,
  pct SMALLINT
);

CREATE INDEX IF NOT EXISTS idx_export_events_job_ts ON export_events (job_id, ts);

CREATE OR REPLACE FUNCTION notify_export_event() RETURNS trigger AS $$
BEGIN
  PERFORM pg_notify('export_events', NEW.id::text);
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'export_jobs_notify') THEN
    CREATE TRIGGER export_jobs_notify
    AFTER INSERT OR UPDATE ON export_jobs
    FOR EACH ROW EXECUTE FUNCTION notify_export_event();
  END IF;
END$$;
`)
	return err
}
