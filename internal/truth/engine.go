// Package truth classifies outputs built from a captured snapshot into a
// validity status and confidence level, with the disclosure every non-VALID
// output must carry.
package truth

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/yourorg/evidence-worker/internal/canonical"
	"github.com/yourorg/evidence-worker/internal/model"
)

const (
	SchemaVersion = "1.0.0"

	// MaxSnapshotAgeSeconds is the oldest a snapshot may be and still back a
	// non-expired output.
	MaxSnapshotAgeSeconds = 604800
	MaxSnapshotAge        = MaxSnapshotAgeSeconds * time.Second

	// MaxClockSkew is how far capturedAt may lie after now and still count
	// as a capture of age zero.
	MaxClockSkew = 5 * time.Minute
)

// Inputs is everything the engine classifies. Now is injected so the
// computation never reads a clock.
type Inputs struct {
	GeneratedAt         time.Time
	SnapshotID          string
	CapturedAt          time.Time
	DriftStatus         model.DriftStatus
	CompletenessPercent float64
	MissingDatasets     []string
	Now                 time.Time

	// ExportHorizon caps ValidUntil at GeneratedAt+ExportHorizon when positive.
	ExportHorizon time.Duration

	// TamperDetected reports that the snapshot payload did not match its
	// recorded digest when it was read back.
	TamperDetected bool
}

type verdict struct {
	validity   model.ValidityStatus
	confidence model.ConfidenceLevel
	warnings   []string
	reasons    []string
}

type facts struct {
	ageSeconds   int64
	drift        model.DriftStatus
	completeness float64
	missing      []string
	tampered     bool
	skewSeconds  int64
}

type rule struct {
	name  string
	match func(facts) bool
	apply func(facts) verdict
}

// rules run in this order and the first match wins.
var rules = []rule{
	{
		name:  "integrity",
		match: func(f facts) bool { return f.tampered },
		apply: func(facts) verdict {
			return verdict{
				validity:   model.Blocked,
				confidence: model.ConfidenceNone,
				warnings:   []string{"BLOCKED: evidence failed integrity verification and must not be used"},
				reasons:    []string{"snapshot payload digest does not match recorded digest"},
			}
		},
	},
	{
		name:  "clock_skew",
		match: func(f facts) bool { return f.skewSeconds > int64(MaxClockSkew/time.Second) },
		apply: func(f facts) verdict {
			return verdict{
				validity:   model.Degraded,
				confidence: model.ConfidenceLow,
				warnings:   []string{fmt.Sprintf("DEGRADED: snapshot capture time is %ds after generation time", f.skewSeconds)},
				reasons:    []string{"snapshot captured_at is later than generation time beyond clock skew tolerance"},
			}
		},
	},
	{
		name:  "max_age",
		match: func(f facts) bool { return f.ageSeconds > MaxSnapshotAgeSeconds },
		apply: func(f facts) verdict {
			return verdict{
				validity:   model.Expired,
				confidence: model.ConfidenceLow,
				warnings:   []string{fmt.Sprintf("EXPIRED: snapshot age %ds exceeds maximum of %ds", f.ageSeconds, MaxSnapshotAgeSeconds)},
				reasons:    []string{"snapshot exceeds maximum age"},
			}
		},
	},
	{
		name:  "drift_detected",
		match: func(f facts) bool { return f.drift == model.DriftDetected },
		apply: func(facts) verdict {
			return verdict{
				validity:   model.Expired,
				confidence: model.ConfidenceLow,
				warnings:   []string{"EXPIRED: source system changed after capture; output may no longer reflect it"},
				reasons:    []string{"drift detected since snapshot was captured"},
			}
		},
	},
	{
		name:  "incomplete",
		match: func(f facts) bool { return f.completeness < 100 },
		apply: func(f facts) verdict {
			pct := strconv.FormatFloat(f.completeness, 'f', -1, 64)
			reasons := make([]string, 0, len(f.missing))
			for _, name := range f.missing {
				reasons = append(reasons, "missing dataset: "+name)
			}
			if len(reasons) == 0 {
				reasons = append(reasons, "completeness "+pct+"% is below 100%")
			}
			return verdict{
				validity:   model.Degraded,
				confidence: model.ConfidenceLow,
				warnings:   []string{"DEGRADED: output built from incomplete evidence (" + pct + "% complete)"},
				reasons:    reasons,
			}
		},
	},
	{
		// Full completeness never upgrades unknown drift.
		name:  "drift_unknown",
		match: func(f facts) bool { return f.drift == model.DriftUnknown },
		apply: func(facts) verdict {
			return verdict{
				validity:   model.Degraded,
				confidence: model.ConfidenceMedium,
				warnings:   []string{"DEGRADED: drift since capture could not be determined"},
				reasons:    []string{"drift status is UNKNOWN"},
			}
		},
	},
}

// Compute derives OutputTruthMetadata from in. The result, including its
// canonical hash, is a pure function of in.
func Compute(in Inputs) (model.OutputTruthMetadata, error) {
	if err := validate(in); err != nil {
		return model.OutputTruthMetadata{}, err
	}
	generatedAt := in.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = in.Now
	}

	f := facts{
		drift:        model.ParseDriftStatus(string(in.DriftStatus)),
		completeness: in.CompletenessPercent,
		missing:      normalizeDatasets(in.MissingDatasets),
		tampered:     in.TamperDetected,
	}
	// A capture stamped after now is age zero; beyond MaxClockSkew it is
	// classified, not rejected.
	if age := in.Now.Sub(in.CapturedAt); age >= 0 {
		f.ageSeconds = int64(age / time.Second)
	} else {
		f.skewSeconds = int64(-age / time.Second)
	}
	v := evaluate(f)

	completeness := model.Complete
	if f.completeness < 100 {
		completeness = model.Incomplete
	}

	md := model.OutputTruthMetadata{
		SchemaVersion:       SchemaVersion,
		GeneratedAt:         generatedAt.UTC(),
		SourceSnapshotID:    in.SnapshotID,
		SnapshotAgeSeconds:  f.ageSeconds,
		DriftStatus:         f.drift,
		CompletenessPercent: f.completeness,
		MissingDatasets:     f.missing,
		CompletenessStatus:  completeness,
		ConfidenceLevel:     v.confidence,
		ValidityStatus:      v.validity,
		Warnings:            v.warnings,
		Reasons:             v.reasons,
		ValidUntil:          validUntil(in.CapturedAt, generatedAt, in.ExportHorizon),
	}
	if err := checkInvariants(md); err != nil {
		panic(err)
	}

	hash, err := canonical.Compute(md.CanonicalValue())
	if err != nil {
		return model.OutputTruthMetadata{}, fmt.Errorf("hash truth metadata: %w", err)
	}
	md.CanonicalHash = string(hash)
	return md, nil
}

func evaluate(f facts) verdict {
	for _, r := range rules {
		if r.match(f) {
			return r.apply(f)
		}
	}
	return verdict{
		validity:   model.Valid,
		confidence: model.ConfidenceHigh,
		warnings:   []string{},
		reasons:    []string{},
	}
}

func validate(in Inputs) error {
	if in.SnapshotID == "" {
		return fmt.Errorf("%w: snapshot id is required", ErrInvalidInput)
	}
	if in.Now.IsZero() || in.CapturedAt.IsZero() {
		return fmt.Errorf("%w: now and captured_at are required", ErrInvalidInput)
	}
	if math.IsNaN(in.CompletenessPercent) || in.CompletenessPercent < 0 || in.CompletenessPercent > 100 {
		return fmt.Errorf("%w: completeness %v outside [0,100]", ErrInvalidInput, in.CompletenessPercent)
	}
	return nil
}

func normalizeDatasets(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, name := range in {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func validUntil(capturedAt, generatedAt time.Time, horizon time.Duration) time.Time {
	until := capturedAt.Add(MaxSnapshotAge)
	if horizon > 0 {
		if h := generatedAt.Add(horizon); h.Before(until) {
			until = h
		}
	}
	return until.UTC()
}

func checkInvariants(md model.OutputTruthMetadata) error {
	disclosed := len(md.Warnings) > 0 && len(md.Reasons) > 0
	silent := len(md.Warnings) == 0 && len(md.Reasons) == 0
	switch {
	case md.ValidityStatus == model.Valid && !silent:
		return &InvariantViolation{Invariant: "valid_is_silent", Detail: fmt.Sprintf("VALID output carries %d warnings and %d reasons", len(md.Warnings), len(md.Reasons))}
	case md.ValidityStatus != model.Valid && !disclosed:
		return &InvariantViolation{Invariant: "non_valid_discloses", Detail: fmt.Sprintf("%s output carries %d warnings and %d reasons", md.ValidityStatus, len(md.Warnings), len(md.Reasons))}
	case md.DriftStatus == model.DriftUnknown && md.ValidityStatus == model.Valid:
		return &InvariantViolation{Invariant: "unknown_drift_not_valid", Detail: "UNKNOWN drift classified VALID"}
	case md.DriftStatus == model.DriftUnknown && md.ConfidenceLevel == model.ConfidenceHigh:
		return &InvariantViolation{Invariant: "unknown_drift_not_high", Detail: "UNKNOWN drift classified HIGH confidence"}
	}
	return nil
}

// VerifyMetadata recomputes the canonical hash of md and compares it with the
// recorded one.
func VerifyMetadata(md model.OutputTruthMetadata) bool {
	return canonical.Verify(md.CanonicalValue(), md.CanonicalHash)
}
