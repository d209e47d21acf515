// Package export shapes the JSON envelope that carries an output's truth
// metadata, its watermark and the tenant's blind-spot map to rendering and
// audit consumers.
package export

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yourorg/evidence-worker/internal/blindspot"
	"github.com/yourorg/evidence-worker/internal/model"
	"github.com/yourorg/evidence-worker/internal/truth"
)

const EnvelopeVersion = "1.0.0"

// Watermark repeats the status and disclosure of a non-VALID output verbatim.
type Watermark struct {
	Status   model.ValidityStatus `json:"status"`
	Warnings []string             `json:"warnings"`
	Reasons  []string             `json:"reasons"`
}

type SnapshotRef struct {
	ID            string             `json:"id"`
	CapturedAt    time.Time          `json:"captured_at"`
	Type          model.SnapshotType `json:"type"`
	PayloadDigest string             `json:"payload_digest"`
}

type Envelope struct {
	SchemaVersion        string                    `json:"schema_version"`
	ExportID             string                    `json:"export_id"`
	TenantID             string                    `json:"tenant_id"`
	GeneratedAt          time.Time                 `json:"generated_at"`
	OperatorAcknowledged bool                      `json:"operator_acknowledged"`
	Snapshot             SnapshotRef               `json:"snapshot"`
	TruthMetadata        model.OutputTruthMetadata `json:"truth_metadata"`
	Watermark            *Watermark                `json:"watermark,omitempty"`
	BlindSpots           *model.BlindSpotMap       `json:"blind_spots,omitempty"`
}

// New assembles an envelope. A watermark is attached exactly when the
// output is not VALID.
func New(exportID, tenantID string, snap *model.EvidenceSnapshot, md model.OutputTruthMetadata, blind *model.BlindSpotMap, acknowledged bool) Envelope {
	env := Envelope{
		SchemaVersion:        EnvelopeVersion,
		ExportID:             exportID,
		TenantID:             tenantID,
		GeneratedAt:          md.GeneratedAt,
		OperatorAcknowledged: acknowledged,
		Snapshot: SnapshotRef{
			ID:            snap.ID,
			CapturedAt:    snap.CapturedAt.UTC(),
			Type:          snap.Type,
			PayloadDigest: snap.PayloadDigest,
		},
		TruthMetadata: md,
		BlindSpots:    blind,
	}
	if md.ValidityStatus != model.Valid {
		env.Watermark = &Watermark{
			Status:   md.ValidityStatus,
			Warnings: append([]string(nil), md.Warnings...),
			Reasons:  append([]string(nil), md.Reasons...),
		}
	}
	return env
}

// Marshal encodes env and validates the result against the envelope schema.
func Marshal(env Envelope) ([]byte, error) {
	raw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if err := Validate(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Unmarshal decodes and schema-validates raw.
func Unmarshal(raw []byte) (Envelope, error) {
	if err := Validate(raw); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Verification is the outcome of re-checking a stored envelope.
type Verification struct {
	TruthHashOK     bool
	BlindSpotHashOK bool
	WatermarkOK     bool
}

func (v Verification) OK() bool {
	return v.TruthHashOK && v.BlindSpotHashOK && v.WatermarkOK
}

// Verify recomputes every digest the envelope carries and checks that the
// watermark still mirrors the truth metadata.
func Verify(env Envelope) Verification {
	v := Verification{
		TruthHashOK:     truth.VerifyMetadata(env.TruthMetadata),
		BlindSpotHashOK: env.BlindSpots == nil || blindspot.VerifyHash(*env.BlindSpots),
	}
	md := env.TruthMetadata
	if md.ValidityStatus == model.Valid {
		v.WatermarkOK = env.Watermark == nil
	} else if w := env.Watermark; w != nil {
		v.WatermarkOK = w.Status == md.ValidityStatus && equal(w.Warnings, md.Warnings) && equal(w.Reasons, md.Reasons)
	}
	return v
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
