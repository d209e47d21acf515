package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/yourorg/evidence-worker/internal/model"
)

var base = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func TestSnapshotsAreAppendOnlyAndTenantScoped(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	snap := model.EvidenceSnapshot{ID: "snap-1", TenantID: "tenant-a", CapturedAt: base}
	if err := m.PutSnapshot(snap); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := m.PutSnapshot(snap); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := m.GetSnapshotByID(context.Background(), "tenant-a", "snap-1")
	if err != nil || got.ID != "snap-1" {
		t.Fatalf("unexpected lookup result: %+v %v", got, err)
	}
	if _, err := m.GetSnapshotByID(context.Background(), "tenant-b", "snap-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected other tenant lookup to miss, got %v", err)
	}
}

func TestListRunRecordsPagesInScheduleOrder(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	for i := 9; i >= 0; i-- {
		r := model.SnapshotRunRecord{
			RunID:       fmt.Sprintf("run-%d", i),
			TenantID:    "tenant-a",
			ScheduledAt: base.Add(time.Duration(i) * time.Hour),
			Outcome:     model.RunSuccessful,
		}
		if err := m.PutRun(r); err != nil {
			t.Fatalf("put run failed: %v", err)
		}
	}
	if err := m.PutRun(model.SnapshotRunRecord{RunID: "run-3", TenantID: "tenant-a"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected duplicate run to be rejected, got %v", err)
	}

	filter := RunFilter{From: base.Add(2 * time.Hour), To: base.Add(8 * time.Hour)}
	runs, err := ListAllRunRecords(context.Background(), m, "tenant-a", filter, 3)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(runs) != 7 {
		t.Fatalf("expected 7 runs in filter, got %d", len(runs))
	}
	for i, r := range runs {
		if want := fmt.Sprintf("run-%d", i+2); r.RunID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, r.RunID)
		}
	}

	if _, err := m.ListRunRecords(context.Background(), "tenant-a", RunFilter{}, Page{Cursor: "x"}); err == nil {
		t.Fatalf("expected invalid cursor to fail")
	}
}

func TestDriftStatusUsesLatestObservationAsOf(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	snapID := uuid.NewString()
	ctx := context.Background()

	if got, _ := m.GetDriftStatus(ctx, "tenant-a", snapID, base); got != model.DriftUnknown {
		t.Fatalf("expected UNKNOWN without observations, got %s", got)
	}

	m.RecordDrift("tenant-a", snapID, DriftObservation{CheckedAt: base.Add(time.Hour), Status: model.DriftNone})
	m.RecordDrift("tenant-a", snapID, DriftObservation{CheckedAt: base.Add(3 * time.Hour), Status: model.DriftDetected})

	cases := []struct {
		asOf time.Time
		want model.DriftStatus
	}{
		{base, model.DriftUnknown},
		{base.Add(2 * time.Hour), model.DriftNone},
		{base.Add(4 * time.Hour), model.DriftDetected},
	}
	for _, tc := range cases {
		got, err := m.GetDriftStatus(ctx, "tenant-a", snapID, tc.asOf)
		if err != nil {
			t.Fatalf("drift lookup failed: %v", err)
		}
		if got != tc.want {
			t.Errorf("as of %s: expected %s, got %s", tc.asOf, tc.want, got)
		}
	}
}

func TestInstalledAt(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	if got, err := m.GetInstalledAt(context.Background(), "tenant-a"); err != nil || got != nil {
		t.Fatalf("expected no install instant, got %v %v", got, err)
	}
	m.SetInstalledAt("tenant-a", base)
	got, err := m.GetInstalledAt(context.Background(), "tenant-a")
	if err != nil || got == nil || !got.Equal(base) {
		t.Fatalf("unexpected install instant: %v %v", got, err)
	}
}
