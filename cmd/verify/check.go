package main

import (
	"strings"

	"github.com/yourorg/evidence-worker/internal/db"
	"github.com/yourorg/evidence-worker/internal/export"
)

type result struct {
	Intact bool
	Detail string
}

// check re-validates a stored envelope and compares its digests with the
// ones recorded when the export job finished.
func check(raw []byte, c db.VerifyCandidate) result {
	env, err := export.Unmarshal(raw)
	if err != nil {
		return result{Detail: err.Error()}
	}

	var problems []string
	v := export.Verify(env)
	if !v.TruthHashOK {
		problems = append(problems, "truth metadata hash mismatch")
	}
	if !v.BlindSpotHashOK {
		problems = append(problems, "blind-spot map hash mismatch")
	}
	if !v.WatermarkOK {
		problems = append(problems, "watermark does not mirror truth metadata")
	}
	if env.TenantID != c.TenantID {
		problems = append(problems, "tenant differs from export job")
	}
	if env.TruthMetadata.CanonicalHash != c.TruthHash {
		problems = append(problems, "truth hash differs from export job")
	}
	recorded := ""
	if c.BlindSpotHash != nil {
		recorded = *c.BlindSpotHash
	}
	stored := ""
	if env.BlindSpots != nil {
		stored = env.BlindSpots.CanonicalHash
	}
	if stored != recorded {
		problems = append(problems, "blind-spot hash differs from export job")
	}
	if len(problems) > 0 {
		return result{Detail: strings.Join(problems, "; ")}
	}
	return result{Intact: true}
}
