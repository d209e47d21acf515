package model

import (
	"time"

	"github.com/yourorg/evidence-worker/internal/canonical"
)

type DriftStatus string

const (
	DriftNone     DriftStatus = "NO_DRIFT"
	DriftDetected DriftStatus = "DRIFT_DETECTED"
	DriftUnknown  DriftStatus = "UNKNOWN"
)

// ParseDriftStatus maps anything unrecognised to DriftUnknown.
func ParseDriftStatus(s string) DriftStatus {
	switch DriftStatus(s) {
	case DriftNone, DriftDetected:
		return DriftStatus(s)
	}
	return DriftUnknown
}

type CompletenessStatus string

const (
	Complete   CompletenessStatus = "COMPLETE"
	Incomplete CompletenessStatus = "INCOMPLETE"
)

type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "HIGH"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceLow    ConfidenceLevel = "LOW"
	ConfidenceNone   ConfidenceLevel = "NONE"
)

type ValidityStatus string

const (
	Valid    ValidityStatus = "VALID"
	Degraded ValidityStatus = "DEGRADED"
	Expired  ValidityStatus = "EXPIRED"
	Blocked  ValidityStatus = "BLOCKED"
)

// OutputTruthMetadata describes how far an output built from one snapshot
// can be trusted at generation time. It is recomputed on every export and
// never stored as mutable state.
type OutputTruthMetadata struct {
	SchemaVersion       string             `json:"schemaVersion"`
	GeneratedAt         time.Time          `json:"generatedAt"`
	SourceSnapshotID    string             `json:"sourceSnapshotId"`
	SnapshotAgeSeconds  int64              `json:"snapshotAgeSeconds"`
	DriftStatus         DriftStatus        `json:"driftStatus"`
	CompletenessPercent float64            `json:"completenessPercent"`
	MissingDatasets     []string           `json:"missingDatasets"`
	CompletenessStatus  CompletenessStatus `json:"completenessStatus"`
	ConfidenceLevel     ConfidenceLevel    `json:"confidenceLevel"`
	ValidityStatus      ValidityStatus     `json:"validityStatus"`
	Warnings            []string           `json:"warnings"`
	Reasons             []string           `json:"reasons"`
	ValidUntil          time.Time          `json:"validUntilISO"`
	CanonicalHash       string             `json:"canonicalHash"`
}

// CanonicalValue covers every field except CanonicalHash itself.
func (m OutputTruthMetadata) CanonicalValue() canonical.Value {
	return canonical.Map(map[string]canonical.Value{
		"schemaVersion":       canonical.String(m.SchemaVersion),
		"generatedAt":         canonical.Time(m.GeneratedAt),
		"sourceSnapshotId":    canonical.String(m.SourceSnapshotID),
		"snapshotAgeSeconds":  canonical.Int(m.SnapshotAgeSeconds),
		"driftStatus":         canonical.String(string(m.DriftStatus)),
		"completenessPercent": canonical.Float(m.CompletenessPercent),
		"missingDatasets":     canonical.Strings(m.MissingDatasets),
		"completenessStatus":  canonical.String(string(m.CompletenessStatus)),
		"confidenceLevel":     canonical.String(string(m.ConfidenceLevel)),
		"validityStatus":      canonical.String(string(m.ValidityStatus)),
		"warnings":            canonical.Strings(m.Warnings),
		"reasons":             canonical.Strings(m.Reasons),
		"validUntilISO":       canonical.Time(m.ValidUntil),
	})
}
