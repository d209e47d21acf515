package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/yourorg/evidence-worker/internal/model"
)

// DriftObservation is one result of the drift tracker comparing the live
// source system with a snapshot.
type DriftObservation struct {
	CheckedAt time.Time
	Status    model.DriftStatus
}

// Memory is an append-only in-memory Store. It is safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[string]map[string]model.EvidenceSnapshot
	runs      map[string][]model.SnapshotRunRecord
	runIDs    map[string]map[string]struct{}
	drift     map[string]map[string][]DriftObservation
	installed map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		snapshots: map[string]map[string]model.EvidenceSnapshot{},
		runs:      map[string][]model.SnapshotRunRecord{},
		runIDs:    map[string]map[string]struct{}{},
		drift:     map[string]map[string][]DriftObservation{},
		installed: map[string]time.Time{},
	}
}

// PutSnapshot stores s once; a second write with the same id fails with
// ErrAlreadyExists.
func (m *Memory) PutSnapshot(s model.EvidenceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.snapshots[s.TenantID]
	if byID == nil {
		byID = map[string]model.EvidenceSnapshot{}
		m.snapshots[s.TenantID] = byID
	}
	if _, ok := byID[s.ID]; ok {
		return fmt.Errorf("snapshot %s: %w", s.ID, ErrAlreadyExists)
	}
	byID[s.ID] = s
	return nil
}

// PutRun appends r; a second write with the same run id fails with
// ErrAlreadyExists.
func (m *Memory) PutRun(r model.SnapshotRunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.runIDs[r.TenantID]
	if ids == nil {
		ids = map[string]struct{}{}
		m.runIDs[r.TenantID] = ids
	}
	if _, ok := ids[r.RunID]; ok {
		return fmt.Errorf("run %s: %w", r.RunID, ErrAlreadyExists)
	}
	ids[r.RunID] = struct{}{}
	runs := append(m.runs[r.TenantID], r)
	sort.SliceStable(runs, func(i, j int) bool { return runBefore(runs[i], runs[j]) })
	m.runs[r.TenantID] = runs
	return nil
}

func (m *Memory) RecordDrift(tenantID, snapshotID string, obs DriftObservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySnap := m.drift[tenantID]
	if bySnap == nil {
		bySnap = map[string][]DriftObservation{}
		m.drift[tenantID] = bySnap
	}
	bySnap[snapshotID] = append(bySnap[snapshotID], obs)
}

func (m *Memory) SetInstalledAt(tenantID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installed[tenantID] = at
}

func (m *Memory) GetSnapshotByID(_ context.Context, tenantID, id string) (*model.EvidenceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[tenantID][id]
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	return &s, nil
}

func (m *Memory) ListRunRecords(_ context.Context, tenantID string, filter RunFilter, page Page) (RunPage, error) {
	offset := 0
	if page.Cursor != "" {
		n, err := strconv.Atoi(page.Cursor)
		if err != nil || n < 0 {
			return RunPage{}, fmt.Errorf("invalid cursor %q", page.Cursor)
		}
		offset = n
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []model.SnapshotRunRecord
	for _, r := range m.runs[tenantID] {
		if filter.Match(r) {
			matched = append(matched, r)
		}
	}
	if offset >= len(matched) {
		return RunPage{}, nil
	}
	end := offset + page.limit()
	res := RunPage{}
	if end < len(matched) {
		res.NextCursor = strconv.Itoa(end)
	} else {
		end = len(matched)
	}
	res.Runs = append([]model.SnapshotRunRecord(nil), matched[offset:end]...)
	return res, nil
}

// GetDriftStatus returns the latest observation checked at or before asOf.
// Without one the drift is UNKNOWN.
func (m *Memory) GetDriftStatus(_ context.Context, tenantID, snapshotID string, asOf time.Time) (model.DriftStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *DriftObservation
	for i, obs := range m.drift[tenantID][snapshotID] {
		if obs.CheckedAt.After(asOf) {
			continue
		}
		if latest == nil || obs.CheckedAt.After(latest.CheckedAt) {
			latest = &m.drift[tenantID][snapshotID][i]
		}
	}
	if latest == nil {
		return model.DriftUnknown, nil
	}
	return model.ParseDriftStatus(string(latest.Status)), nil
}

func (m *Memory) GetInstalledAt(_ context.Context, tenantID string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.installed[tenantID]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

func runBefore(a, b model.SnapshotRunRecord) bool {
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return a.RunID < b.RunID
}
