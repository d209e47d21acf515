package truth

import (
	"errors"
	"testing"

	"github.com/yourorg/evidence-worker/internal/model"
)

func TestRequireValidForExport(t *testing.T) {
	t.Parallel()

	valid := mustCompute(t, freshInputs())

	degradedIn := freshInputs()
	degradedIn.DriftStatus = model.DriftUnknown
	degraded := mustCompute(t, degradedIn)

	blockedIn := freshInputs()
	blockedIn.TamperDetected = true
	blockedMD := mustCompute(t, blockedIn)

	cases := []struct {
		name    string
		md      model.OutputTruthMetadata
		ack     bool
		blocked bool
	}{
		{name: "valid", md: valid},
		{name: "valid acknowledged", md: valid, ack: true},
		{name: "degraded", md: degraded, blocked: true},
		{name: "degraded acknowledged", md: degraded, ack: true},
		{name: "blocked", md: blockedMD, blocked: true},
		{name: "blocked acknowledged", md: blockedMD, ack: true, blocked: true},
		{name: "unrecognised status", md: model.OutputTruthMetadata{ValidityStatus: "SOMETIMES"}, ack: true, blocked: true},
	}
	for _, tc := range cases {
		err := RequireValidForExport(tc.md, tc.ack)
		if !tc.blocked {
			if err != nil {
				t.Errorf("%s: expected export to pass, got %v", tc.name, err)
			}
			continue
		}
		var be *ExportBlockedError
		if !errors.As(err, &be) {
			t.Errorf("%s: expected ExportBlockedError, got %v", tc.name, err)
			continue
		}
		if len(be.Reasons) == 0 {
			t.Errorf("%s: blocked export carried no reasons", tc.name)
		}
	}
}

func TestExportBlockedCarriesMetadataReasons(t *testing.T) {
	t.Parallel()

	in := freshInputs()
	in.DriftStatus = model.DriftUnknown
	md := mustCompute(t, in)

	var be *ExportBlockedError
	if !errors.As(RequireValidForExport(md, false), &be) {
		t.Fatalf("expected ExportBlockedError")
	}
	if be.Status != model.Degraded || len(be.Reasons) != 1 || be.Reasons[0] != "drift status is UNKNOWN" {
		t.Fatalf("unexpected blocked error: %+v", be)
	}
}
