// Package evidence reads stored snapshots and run records for a tenant and
// turns them into truth metadata, blind-spot maps and export envelopes.
package evidence

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/yourorg/evidence-worker/internal/blindspot"
	"github.com/yourorg/evidence-worker/internal/export"
	"github.com/yourorg/evidence-worker/internal/model"
	"github.com/yourorg/evidence-worker/internal/store"
	"github.com/yourorg/evidence-worker/internal/truth"
)

type Options struct {
	// ExportHorizon caps how long an exported output stays valid.
	ExportHorizon time.Duration
	// WindowDays is the blind-spot window used when a request names none.
	WindowDays int
	RunPageSize int
}

type Service struct {
	store store.Store
	opts  Options
}

func NewService(s store.Store, opts Options) *Service {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 30
	}
	if opts.RunPageSize <= 0 {
		opts.RunPageSize = store.DefaultPageLimit
	}
	return &Service{store: s, opts: opts}
}

// ExportRequest asks for one export. Now is the generation instant; the
// window defaults to the WindowDays before Now.
type ExportRequest struct {
	ExportID             string
	TenantID             string
	SnapshotID           string
	OperatorAcknowledged bool
	Now                  time.Time
	WindowStart          time.Time
	WindowEnd            time.Time
}

// Evaluate loads a snapshot and classifies it. A payload that no longer
// matches its digest, or a drift lookup that fails, is classified on the
// less trusting side rather than reported as an error.
func (s *Service) Evaluate(ctx context.Context, tenantID, snapshotID string, now time.Time) (*model.EvidenceSnapshot, model.OutputTruthMetadata, error) {
	snap, err := s.store.GetSnapshotByID(ctx, tenantID, snapshotID)
	if err != nil {
		return nil, model.OutputTruthMetadata{}, fmt.Errorf("load snapshot %s: %w", snapshotID, err)
	}

	tampered := !snap.VerifyPayload()
	if tampered {
		log.Printf("tenant %s: snapshot %s payload does not match digest %s", tenantID, snapshotID, snap.PayloadDigest)
	}

	drift, err := s.store.GetDriftStatus(ctx, tenantID, snapshotID, now)
	if err != nil {
		log.Printf("tenant %s: drift lookup for snapshot %s failed, treating as UNKNOWN: %v", tenantID, snapshotID, err)
		drift = model.DriftUnknown
	}

	pct, missing := Completeness(snap.Missing)
	md, err := truth.Compute(truth.Inputs{
		GeneratedAt:         now,
		SnapshotID:          snap.ID,
		CapturedAt:          snap.CapturedAt,
		DriftStatus:         drift,
		CompletenessPercent: pct,
		MissingDatasets:     missing,
		Now:                 now,
		ExportHorizon:       s.opts.ExportHorizon,
		TamperDetected:      tampered,
	})
	if err != nil {
		return nil, model.OutputTruthMetadata{}, fmt.Errorf("classify snapshot %s: %w", snapshotID, err)
	}
	return snap, md, nil
}

// BlindSpots derives the tenant's blind-spot map over [start, end).
func (s *Service) BlindSpots(ctx context.Context, tenantID string, start, end, now time.Time) (model.BlindSpotMap, error) {
	if !end.After(start) {
		return model.BlindSpotMap{}, &blindspot.WindowError{Start: start, End: end}
	}
	installedAt, err := s.store.GetInstalledAt(ctx, tenantID)
	if err != nil {
		return model.BlindSpotMap{}, fmt.Errorf("load install instant: %w", err)
	}
	runs, err := store.ListAllRunRecords(ctx, s.store, tenantID, store.RunFilter{From: start, To: end}, s.opts.RunPageSize)
	if err != nil {
		return model.BlindSpotMap{}, fmt.Errorf("list run records: %w", err)
	}
	return blindspot.Derive(blindspot.Input{
		TenantID:    tenantID,
		InstalledAt: installedAt,
		Runs:        runs,
		WindowStart: start,
		WindowEnd:   end,
		ComputedAt:  now,
	})
}

// BuildExport produces the envelope for req, or a *truth.ExportBlockedError
// when the output may not leave without acknowledgment.
func (s *Service) BuildExport(ctx context.Context, req ExportRequest) (export.Envelope, error) {
	snap, md, err := s.Evaluate(ctx, req.TenantID, req.SnapshotID, req.Now)
	if err != nil {
		return export.Envelope{}, err
	}
	if err := truth.RequireValidForExport(md, req.OperatorAcknowledged); err != nil {
		return export.Envelope{}, err
	}

	start, end := req.WindowStart, req.WindowEnd
	if end.IsZero() {
		end = req.Now
	}
	if start.IsZero() {
		start = end.Add(-time.Duration(s.opts.WindowDays) * 24 * time.Hour)
	}
	blind, err := s.BlindSpots(ctx, req.TenantID, start, end, req.Now)
	if err != nil {
		return export.Envelope{}, err
	}
	return export.New(req.ExportID, req.TenantID, snap, md, &blind, req.OperatorAcknowledged), nil
}

// Completeness derives the completeness percent of a capture from its
// dataset coverage: the share of datasets fully AVAILABLE. Every other
// dataset is reported missing. A capture without dataset records is complete.
func Completeness(items []model.MissingDataItem) (float64, []string) {
	if len(items) == 0 {
		return 100, []string{}
	}
	available := 0
	missing := make([]string, 0, len(items))
	for _, item := range items {
		if item.Coverage == model.CoverageAvailable {
			available++
			continue
		}
		missing = append(missing, item.Dataset)
	}
	sort.Strings(missing)
	pct := math.Round(float64(available)/float64(len(items))*10000) / 100
	if available < len(items) && pct >= 100 {
		pct = 99.99
	}
	return pct, missing
}
