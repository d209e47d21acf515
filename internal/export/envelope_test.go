package export

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/yourorg/evidence-worker/internal/blindspot"
	"github.com/yourorg/evidence-worker/internal/model"
	"github.com/yourorg/evidence-worker/internal/truth"
)

var capturedAt = time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)

func testSnapshot() *model.EvidenceSnapshot {
	return &model.EvidenceSnapshot{
		ID:            "snap-1",
		TenantID:      "tenant-a",
		CapturedAt:    capturedAt,
		Type:          model.SnapshotTypeFull,
		PayloadDigest: "44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a",
		Payload:       map[string]any{},
	}
}

func testEnvelope(t *testing.T, drift model.DriftStatus) Envelope {
	t.Helper()
	now := capturedAt.Add(time.Hour)
	md, err := truth.Compute(truth.Inputs{
		GeneratedAt:         now,
		SnapshotID:          "snap-1",
		CapturedAt:          capturedAt,
		DriftStatus:         drift,
		CompletenessPercent: 100,
		Now:                 now,
	})
	if err != nil {
		t.Fatalf("compute truth: %v", err)
	}
	done := capturedAt.Add(time.Minute)
	blind, err := blindspot.Derive(blindspot.Input{
		TenantID:    "tenant-a",
		Runs:        []model.SnapshotRunRecord{{RunID: "r1", ScheduledAt: capturedAt, CompletedAt: &done, Outcome: model.RunSuccessful}},
		WindowStart: capturedAt.Add(-30 * 24 * time.Hour),
		WindowEnd:   now,
		ComputedAt:  now,
	})
	if err != nil {
		t.Fatalf("derive blind spots: %v", err)
	}
	return New(uuid.NewString(), "tenant-a", testSnapshot(), md, &blind, false)
}

func TestValidEnvelopeHasNoWatermark(t *testing.T) {
	t.Parallel()

	env := testEnvelope(t, model.DriftNone)
	if env.Watermark != nil {
		t.Fatalf("expected no watermark on VALID output, got %+v", env.Watermark)
	}
	raw, err := Marshal(env)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if bytes.Contains(raw, []byte(`"watermark"`)) {
		t.Fatalf("VALID envelope serialized a watermark")
	}
	back, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !Verify(back).OK() {
		t.Fatalf("expected round-tripped envelope to verify: %+v", Verify(back))
	}
}

func TestNonValidEnvelopeCarriesWatermarkVerbatim(t *testing.T) {
	t.Parallel()

	env := testEnvelope(t, model.DriftUnknown)
	if env.Watermark == nil {
		t.Fatalf("expected watermark on DEGRADED output")
	}
	if env.Watermark.Status != model.Degraded || env.Watermark.Reasons[0] != env.TruthMetadata.Reasons[0] {
		t.Fatalf("watermark does not mirror truth metadata: %+v", env.Watermark)
	}

	raw, err := Marshal(env)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	tm, ok := doc["truth_metadata"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested truth_metadata object")
	}
	for _, field := range []string{"validityStatus", "confidenceLevel", "validUntilISO", "canonicalHash", "snapshotAgeSeconds"} {
		if _, ok := tm[field]; !ok {
			t.Errorf("truth_metadata missing %s", field)
		}
	}
}

func TestSchemaRejectsInconsistentEnvelopes(t *testing.T) {
	t.Parallel()

	valid := testEnvelope(t, model.DriftNone)
	valid.Watermark = &Watermark{Status: model.Degraded, Warnings: []string{"w"}, Reasons: []string{"r"}}
	if _, err := Marshal(valid); err == nil {
		t.Fatalf("expected VALID envelope with watermark to be rejected")
	}

	degraded := testEnvelope(t, model.DriftUnknown)
	degraded.Watermark = nil
	if _, err := Marshal(degraded); err == nil {
		t.Fatalf("expected DEGRADED envelope without watermark to be rejected")
	}

	silent := testEnvelope(t, model.DriftUnknown)
	silent.TruthMetadata.Reasons = []string{}
	if _, err := Marshal(silent); err == nil {
		t.Fatalf("expected non-VALID metadata without reasons to be rejected")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	t.Parallel()

	raw, err := Marshal(testEnvelope(t, model.DriftUnknown))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	edited := bytes.Replace(raw, []byte(`"confidenceLevel": "MEDIUM"`), []byte(`"confidenceLevel": "LOW"`), 1)
	if bytes.Equal(edited, raw) {
		t.Fatalf("test fixture did not contain the expected field")
	}
	env, err := Unmarshal(edited)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if v := Verify(env); v.TruthHashOK || v.OK() {
		t.Fatalf("expected tampered truth metadata to fail verification: %+v", v)
	}

	env = testEnvelope(t, model.DriftUnknown)
	env.Watermark.Reasons = []string{"something else"}
	if v := Verify(env); v.WatermarkOK {
		t.Fatalf("expected diverging watermark to fail verification")
	}

	env = testEnvelope(t, model.DriftNone)
	env.BlindSpots.CoveragePercent = 100
	if v := Verify(env); v.BlindSpotHashOK {
		t.Fatalf("expected edited blind spot map to fail verification")
	}
}
