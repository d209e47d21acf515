package model

import (
	"time"

	"github.com/yourorg/evidence-worker/internal/canonical"
)

type SnapshotType string

const (
	SnapshotTypeLight SnapshotType = "light"
	SnapshotTypeFull  SnapshotType = "full"
)

type CoverageStatus string

const (
	CoverageAvailable    CoverageStatus = "AVAILABLE"
	CoveragePartial      CoverageStatus = "PARTIAL"
	CoverageMissing      CoverageStatus = "MISSING"
	CoverageNotPermitted CoverageStatus = "NOT_PERMITTED"
)

// MissingDataItem records how much of one dataset a capture obtained.
type MissingDataItem struct {
	Dataset    string         `json:"dataset"`
	Coverage   CoverageStatus `json:"coverage"`
	ReasonCode string         `json:"reason_code,omitempty"`
	RetryCount int            `json:"retry_count"`
}

// EvidenceSnapshot is one captured point-in-time state of a tenant's source
// system. Snapshots are append-only and never mutated once stored.
type EvidenceSnapshot struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	CapturedAt    time.Time         `json:"captured_at"`
	Type          SnapshotType      `json:"type"`
	PayloadDigest string            `json:"payload_digest"`
	Missing       []MissingDataItem `json:"missing_data"`
	Payload       map[string]any    `json:"payload"`
}

// VerifyPayload recomputes the payload digest and compares it with the one
// recorded at capture time.
func (s *EvidenceSnapshot) VerifyPayload() bool {
	return canonical.VerifyAny(s.Payload, s.PayloadDigest)
}

type RunOutcome string

const (
	RunSuccessful RunOutcome = "successful"
	RunPartial    RunOutcome = "partial"
	RunFailed     RunOutcome = "failed"
)

// FailurePermissionDenied is the failure code capture reports when the source
// system refused access.
const FailurePermissionDenied = "permission_denied"

// SnapshotRunRecord is one attempt to produce an EvidenceSnapshot. Failed
// attempts produce no snapshot but still record when capture was tried.
type SnapshotRunRecord struct {
	RunID         string     `json:"run_id"`
	TenantID      string     `json:"tenant_id"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Outcome       RunOutcome `json:"outcome"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// ProducedEvidence reports whether the run left a usable snapshot behind.
// Partial runs count: their gaps are disclosed through completeness instead.
func (r SnapshotRunRecord) ProducedEvidence() bool {
	return r.Outcome == RunSuccessful || r.Outcome == RunPartial
}
