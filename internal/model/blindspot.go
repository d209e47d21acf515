package model

import (
	"time"

	"github.com/yourorg/evidence-worker/internal/canonical"
)

type BlindSpotReason string

const (
	ReasonNotInstalled      BlindSpotReason = "not_installed"
	ReasonPermissionMissing BlindSpotReason = "permission_missing"
	ReasonSnapshotFailed    BlindSpotReason = "snapshot_failed"
	ReasonUnknown           BlindSpotReason = "unknown"
)

// Description is the fixed human-readable text for a reason.
func (r BlindSpotReason) Description() string {
	switch r {
	case ReasonNotInstalled:
		return "Evidence capture was not installed for this tenant yet."
	case ReasonPermissionMissing:
		return "Capture ran but the source system denied the required permissions."
	case ReasonSnapshotFailed:
		return "Capture ran but failed to produce a snapshot."
	default:
		return "No capture evidence exists for this period."
	}
}

type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	}
	return 0
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// BlindSpotPeriod is a continuous interval [Start, End) without usable evidence.
type BlindSpotPeriod struct {
	Start        time.Time       `json:"start"`
	End          time.Time       `json:"end"`
	Reason       BlindSpotReason `json:"reason"`
	Description  string          `json:"description"`
	DurationDays float64         `json:"durationDays"`
	Severity     Severity        `json:"severity"`
}

func (p BlindSpotPeriod) CanonicalValue() canonical.Value {
	return canonical.Map(map[string]canonical.Value{
		"start":        canonical.Time(p.Start),
		"end":          canonical.Time(p.End),
		"reason":       canonical.String(string(p.Reason)),
		"description":  canonical.String(p.Description),
		"durationDays": canonical.Float(p.DurationDays),
		"severity":     canonical.String(string(p.Severity)),
	})
}

// BlindSpotMap is the derived blind-spot report for one tenant and window.
type BlindSpotMap struct {
	TenantID        string            `json:"tenantId"`
	ComputedAt      time.Time         `json:"computedAt"`
	WindowStart     time.Time         `json:"windowStart"`
	WindowEnd       time.Time         `json:"windowEnd"`
	Periods         []BlindSpotPeriod `json:"periods"`
	TotalBlindDays  float64           `json:"totalBlindDays"`
	CoveragePercent float64           `json:"coveragePercent"`
	CanonicalHash   string            `json:"canonicalHash"`
}

// CanonicalValue covers the deterministic subset of the map: ComputedAt and
// CanonicalHash are excluded. Periods are expected in their sorted order.
func (m BlindSpotMap) CanonicalValue() canonical.Value {
	periods := make([]canonical.Value, len(m.Periods))
	for i, p := range m.Periods {
		periods[i] = p.CanonicalValue()
	}
	return canonical.Map(map[string]canonical.Value{
		"tenantId":        canonical.String(m.TenantID),
		"windowStart":     canonical.Time(m.WindowStart),
		"windowEnd":       canonical.Time(m.WindowEnd),
		"periods":         canonical.List(periods...),
		"totalBlindDays":  canonical.Float(m.TotalBlindDays),
		"coveragePercent": canonical.Float(m.CoveragePercent),
	})
}
