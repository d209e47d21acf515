// Package store defines the read side of evidence storage that the export
// path depends on, plus an in-memory implementation of it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/yourorg/evidence-worker/internal/model"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// DefaultPageLimit applies when a Page carries no limit.
const DefaultPageLimit = 500

// RunFilter bounds run records by scheduled time, [From, To]. Zero values
// leave that side open.
type RunFilter struct {
	From time.Time
	To   time.Time
}

// Match reports whether r is inside the filter.
func (f RunFilter) Match(r model.SnapshotRunRecord) bool {
	if !f.From.IsZero() && r.ScheduledAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.ScheduledAt.After(f.To) {
		return false
	}
	return true
}

// Page selects a slice of run records. Cursor is opaque and comes from a
// previous RunPage.NextCursor.
type Page struct {
	Cursor string
	Limit  int
}

func (p Page) limit() int {
	if p.Limit <= 0 {
		return DefaultPageLimit
	}
	return p.Limit
}

// RunPage is one page of run records ordered by scheduled time then run id.
// An empty NextCursor means there are no more pages.
type RunPage struct {
	Runs       []model.SnapshotRunRecord
	NextCursor string
}

// Store is the evidence storage the export path reads from. Every call is
// scoped to a tenant; tenant identity is never inferred.
type Store interface {
	// GetSnapshotByID returns ErrNotFound when the tenant has no such snapshot.
	GetSnapshotByID(ctx context.Context, tenantID, id string) (*model.EvidenceSnapshot, error)
	ListRunRecords(ctx context.Context, tenantID string, filter RunFilter, page Page) (RunPage, error)
	// GetDriftStatus returns the drift of the source system since the snapshot
	// was captured, as known at asOf.
	GetDriftStatus(ctx context.Context, tenantID, snapshotID string, asOf time.Time) (model.DriftStatus, error)
	// GetInstalledAt returns nil when the install instant is not recorded.
	GetInstalledAt(ctx context.Context, tenantID string) (*time.Time, error)
}

// ListAllRunRecords drains every page of ListRunRecords.
func ListAllRunRecords(ctx context.Context, s Store, tenantID string, filter RunFilter, pageSize int) ([]model.SnapshotRunRecord, error) {
	var out []model.SnapshotRunRecord
	page := Page{Limit: pageSize}
	for {
		res, err := s.ListRunRecords(ctx, tenantID, filter, page)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Runs...)
		if res.NextCursor == "" {
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page.Cursor = res.NextCursor
	}
}
