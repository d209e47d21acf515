package main

import (
	"strings"
	"testing"
	"time"

	"github.com/yourorg/evidence-worker/internal/blindspot"
	"github.com/yourorg/evidence-worker/internal/db"
	"github.com/yourorg/evidence-worker/internal/export"
	"github.com/yourorg/evidence-worker/internal/model"
	"github.com/yourorg/evidence-worker/internal/truth"
)

var now = time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

func storedExport(t *testing.T, drift model.DriftStatus) ([]byte, db.VerifyCandidate) {
	t.Helper()
	captured := now.Add(-3 * time.Hour)
	md, err := truth.Compute(truth.Inputs{
		GeneratedAt:         now,
		SnapshotID:          "snap-1",
		CapturedAt:          captured,
		DriftStatus:         drift,
		CompletenessPercent: 100,
		Now:                 now,
	})
	if err != nil {
		t.Fatalf("compute truth: %v", err)
	}
	blind, err := blindspot.Derive(blindspot.Input{
		TenantID:    "tenant-a",
		Runs:        []model.SnapshotRunRecord{{RunID: "r1", ScheduledAt: captured, Outcome: model.RunSuccessful}},
		WindowStart: now.Add(-30 * 24 * time.Hour),
		WindowEnd:   now,
		ComputedAt:  now,
	})
	if err != nil {
		t.Fatalf("derive blind spots: %v", err)
	}
	snap := &model.EvidenceSnapshot{
		ID:            "snap-1",
		TenantID:      "tenant-a",
		CapturedAt:    captured,
		Type:          model.SnapshotTypeLight,
		PayloadDigest: "44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a",
	}
	env := export.New("job-1", "tenant-a", snap, md, &blind, drift != model.DriftNone)
	raw, err := export.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	bh := blind.CanonicalHash
	return raw, db.VerifyCandidate{ID: "job-1", TenantID: "tenant-a", TruthHash: md.CanonicalHash, BlindSpotHash: &bh}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		drift      model.DriftStatus
		mutate     func(raw string, c *db.VerifyCandidate) string
		wantIntact bool
		wantDetail string
	}{
		{
			name:       "valid export intact",
			drift:      model.DriftNone,
			wantIntact: true,
		},
		{
			name:       "acknowledged degraded export intact",
			drift:      model.DriftUnknown,
			wantIntact: true,
		},
		{
			name:  "confidence edited",
			drift: model.DriftNone,
			mutate: func(raw string, _ *db.VerifyCandidate) string {
				return strings.Replace(raw, `"confidenceLevel": "HIGH"`, `"confidenceLevel": "MEDIUM"`, 1)
			},
			wantDetail: "truth metadata hash mismatch",
		},
		{
			name:  "recorded hash differs",
			drift: model.DriftNone,
			mutate: func(raw string, c *db.VerifyCandidate) string {
				c.TruthHash = strings.Repeat("0", 64)
				return raw
			},
			wantDetail: "truth hash differs from export job",
		},
		{
			name:  "not an envelope",
			drift: model.DriftNone,
			mutate: func(string, *db.VerifyCandidate) string {
				return `{"hello":"world"}`
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			raw, c := storedExport(t, tt.drift)
			s := string(raw)
			if tt.mutate != nil {
				s = tt.mutate(s, &c)
			}
			res := check([]byte(s), c)
			if res.Intact != tt.wantIntact {
				t.Fatalf("intact = %v (%s), want %v", res.Intact, res.Detail, tt.wantIntact)
			}
			if tt.wantDetail != "" && !strings.Contains(res.Detail, tt.wantDetail) {
				t.Fatalf("detail %q does not mention %q", res.Detail, tt.wantDetail)
			}
		})
	}
}
