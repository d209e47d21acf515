// Package blindspot reconstructs, from historical capture-run records alone,
// the intervals during which no usable evidence existed for a tenant.
package blindspot

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/yourorg/evidence-worker/internal/canonical"
	"github.com/yourorg/evidence-worker/internal/model"
)

const (
	day = 24 * time.Hour

	// MinFailureGap is the shortest gap since the last success that a failed
	// run, or a first successful run, turns into a blind spot.
	MinFailureGap = 12 * time.Hour
	// LongSilence is the gap between successes that is reported even though
	// nothing failed.
	LongSilence = 7 * day
	// CriticalSilence escalates a silent gap to critical.
	CriticalSilence = 14 * day
	// MergeTolerance is the largest gap bridged between same-reason periods.
	MergeTolerance = time.Hour
)

// WindowError rejects a zero-length or inverted analysis window.
type WindowError struct {
	Start time.Time
	End   time.Time
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("invalid analysis window [%s, %s): end must be after start",
		e.Start.UTC().Format(time.RFC3339), e.End.UTC().Format(time.RFC3339))
}

// Input is the material for one derivation. ComputedAt is recorded on the
// map but excluded from its hash.
type Input struct {
	TenantID    string
	InstalledAt *time.Time
	Runs        []model.SnapshotRunRecord
	WindowStart time.Time
	WindowEnd   time.Time
	ComputedAt  time.Time
}

// Derive builds the merged, sorted blind-spot map for in. It reads nothing
// but its input.
func Derive(in Input) (model.BlindSpotMap, error) {
	start, end := in.WindowStart.UTC(), in.WindowEnd.UTC()
	if !end.After(start) {
		return model.BlindSpotMap{}, &WindowError{Start: in.WindowStart, End: in.WindowEnd}
	}
	w := window{start: start, end: end}

	var candidates []model.BlindSpotPeriod
	evidenceFrom := start
	if in.InstalledAt != nil {
		installed := in.InstalledAt.UTC()
		if installed.After(start) {
			evidenceFrom = w.clamp(installed)
			candidates = w.add(candidates, start, evidenceFrom, model.ReasonNotInstalled, model.SeverityCritical)
		}
	}

	if len(in.Runs) == 0 {
		candidates = w.add(candidates, evidenceFrom, end, model.ReasonUnknown, model.SeverityCritical)
	} else {
		candidates = append(candidates, walk(w, evidenceFrom, in.Runs)...)
	}

	periods := merge(candidates)
	var blind time.Duration
	for _, p := range periods {
		blind += p.End.Sub(p.Start)
	}
	windowDays := days(end.Sub(start))
	blindDays := days(blind)
	coverage := (windowDays - blindDays) / windowDays * 100

	m := model.BlindSpotMap{
		TenantID:        in.TenantID,
		ComputedAt:      in.ComputedAt.UTC(),
		WindowStart:     start,
		WindowEnd:       end,
		Periods:         periods,
		TotalBlindDays:  round2(blindDays),
		CoveragePercent: round2(math.Max(0, math.Min(100, coverage))),
	}
	hash, err := canonical.Compute(m.CanonicalValue())
	if err != nil {
		return model.BlindSpotMap{}, fmt.Errorf("hash blind spot map: %w", err)
	}
	m.CanonicalHash = string(hash)
	return m, nil
}

// VerifyHash recomputes the canonical hash of m and compares it with the
// recorded one.
func VerifyHash(m model.BlindSpotMap) bool {
	return canonical.Verify(m.CanonicalValue(), m.CanonicalHash)
}

// walk emits candidate periods for the runs. The "first run" rule applies
// only while no successful run has been seen in the window; afterwards only
// the long-silence rule can report a gap that ends in a success.
func walk(w window, evidenceFrom time.Time, runs []model.SnapshotRunRecord) []model.BlindSpotPeriod {
	sorted := append([]model.SnapshotRunRecord(nil), runs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return a.RunID < b.RunID
	})

	var out []model.BlindSpotPeriod
	lastSuccess := evidenceFrom
	// cursor is where the next emitted period starts, so consecutive
	// failures after one success produce adjoining periods instead of
	// overlapping ones.
	cursor := evidenceFrom
	seenSuccess := false

	for _, run := range sorted {
		at := run.ScheduledAt.UTC()
		if at.Before(lastSuccess) || at.After(w.end) {
			continue
		}
		gap := at.Sub(lastSuccess)

		if !run.ProducedEvidence() {
			if at.Sub(cursor) >= MinFailureGap {
				reason := failureReason(run.FailureReason)
				out = w.add(out, cursor, at, reason, failureSeverity(reason, gap))
				cursor = at
			}
			continue
		}

		// A failure since lastSuccess already explains the gap; the silence
		// rules only apply to gaps nothing was emitted for.
		switch {
		case !cursor.Equal(lastSuccess):
		case !seenSuccess && gap >= MinFailureGap:
			out = w.add(out, cursor, at, model.ReasonUnknown, silenceSeverity(gap, model.SeverityMedium))
		case seenSuccess && gap > LongSilence:
			out = w.add(out, cursor, at, model.ReasonUnknown, silenceSeverity(gap, model.SeverityHigh))
		}
		lastSuccess, cursor, seenSuccess = at, at, true
	}

	if trailing := w.end.Sub(lastSuccess); trailing > LongSilence {
		out = w.add(out, cursor, w.end, model.ReasonUnknown, silenceSeverity(trailing, model.SeverityHigh))
	}
	return out
}

func failureReason(code string) model.BlindSpotReason {
	if code == model.FailurePermissionDenied {
		return model.ReasonPermissionMissing
	}
	return model.ReasonSnapshotFailed
}

func failureSeverity(reason model.BlindSpotReason, gap time.Duration) model.Severity {
	base := model.SeverityMedium
	if reason == model.ReasonPermissionMissing {
		base = model.SeverityHigh
	}
	return silenceSeverity(gap, base)
}

// silenceSeverity escalates base by the length of the gap.
func silenceSeverity(gap time.Duration, base model.Severity) model.Severity {
	switch {
	case gap > CriticalSilence:
		return model.SeverityCritical
	case gap > LongSilence:
		return model.MaxSeverity(base, model.SeverityHigh)
	}
	return base
}

// merge sorts candidates by start and folds together neighbours that share a
// reason and are less than MergeTolerance apart, keeping the worse severity.
func merge(candidates []model.BlindSpotPeriod) []model.BlindSpotPeriod {
	if len(candidates) == 0 {
		return []model.BlindSpotPeriod{}
	}
	sorted := append([]model.BlindSpotPeriod(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		return a.Reason < b.Reason
	})

	out := make([]model.BlindSpotPeriod, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if next.Reason == cur.Reason && next.Start.Sub(cur.End) < MergeTolerance {
			if next.End.After(cur.End) {
				cur.End = next.End
			}
			cur.Severity = model.MaxSeverity(cur.Severity, next.Severity)
			continue
		}
		out = append(out, finish(cur))
		cur = next
	}
	return append(out, finish(cur))
}

func finish(p model.BlindSpotPeriod) model.BlindSpotPeriod {
	p.Description = p.Reason.Description()
	p.DurationDays = round2(days(p.End.Sub(p.Start)))
	return p
}

type window struct {
	start time.Time
	end   time.Time
}

func (w window) clamp(t time.Time) time.Time {
	switch {
	case t.Before(w.start):
		return w.start
	case t.After(w.end):
		return w.end
	}
	return t
}

// add appends [from, to) clamped to the window, dropping empty intervals.
func (w window) add(out []model.BlindSpotPeriod, from, to time.Time, reason model.BlindSpotReason, sev model.Severity) []model.BlindSpotPeriod {
	from, to = w.clamp(from), w.clamp(to)
	if !to.After(from) {
		return out
	}
	return append(out, model.BlindSpotPeriod{Start: from, End: to, Reason: reason, Severity: sev})
}

func days(d time.Duration) float64 {
	return d.Hours() / 24
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
