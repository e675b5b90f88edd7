// Package progress provides best-effort progress reporting for pipeline runs.
// Events flow from concurrent producers to a single consumer-supplied sink;
// delivery never blocks and never fails the producer.
package progress

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Phase identifies the pipeline stage an event belongs to.
// Phases advance in a fixed order; events within a phase are monotonic.
type Phase string

const (
	// PhaseUsers covers the user directory fetch.
	PhaseUsers Phase = "users"

	// PhaseDeals covers the per-owner deal fetch.
	PhaseDeals Phase = "deals"

	// PhaseTasks covers the per-deal task fetch.
	PhaseTasks Phase = "tasks"

	// PhaseProcessing covers aggregation over the fetched record sets.
	PhaseProcessing Phase = "processing"

	// PhaseComplete is emitted once when a run finishes.
	PhaseComplete Phase = "complete"
)

// Event is a point-in-time progress report. Current, Total and Percentage
// are internally consistent within one event.
type Event struct {
	Phase      Phase   `json:"phase"`
	Message    string  `json:"message"`
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Sink receives progress events. It may be invoked from multiple concurrent
// producers without ordering guarantees across producers. Implementations
// should be cheap; delivery is best-effort.
type Sink func(Event)

// Reporter wraps a Sink and shields producers from it: a nil sink is
// tolerated and a panicking sink is recovered and logged.
type Reporter struct {
	sink Sink
}

// NewReporter creates a reporter for the given sink. A nil sink yields a
// reporter that drops all events.
func NewReporter(sink Sink) *Reporter {
	return &Reporter{sink: sink}
}

// Report builds and delivers a single event. Percentage is derived from
// current/total and clamped to [0, 100]; a non-positive total yields 0.
func (r *Reporter) Report(phase Phase, message string, current, total int) {
	if r == nil || r.sink == nil {
		return
	}

	pct := 0.0
	if total > 0 {
		pct = float64(current) / float64(total) * 100
		if pct > 100 {
			pct = 100
		}
		if pct < 0 {
			pct = 0
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Warn().
				Str("phase", string(phase)).
				Interface("panic", rec).
				Msg("Progress sink panicked; event dropped")
		}
	}()

	r.sink(Event{
		Phase:      phase,
		Message:    message,
		Current:    current,
		Total:      total,
		Percentage: pct,
	})
}

// Complete emits the terminal event for a run.
func (r *Reporter) Complete(message string) {
	r.Report(PhaseComplete, message, 1, 1)
}

// Tracker is a shared completion counter for one phase, incremented by
// whichever worker finishes an item. Emission is throttled to every
// emitEvery-th increment (and always on the final one) to bound event
// volume under high fan-out.
type Tracker struct {
	reporter  *Reporter
	phase     Phase
	format    string
	total     int
	emitEvery int64
	done      atomic.Int64
}

// NewTracker creates a tracker for total items in the given phase. format is
// a fmt string receiving (done, total), e.g. "Fetched deals for %d/%d owners".
// emitEvery <= 1 emits on every increment.
func (r *Reporter) NewTracker(phase Phase, format string, total, emitEvery int) *Tracker {
	if emitEvery < 1 {
		emitEvery = 1
	}
	return &Tracker{
		reporter:  r,
		phase:     phase,
		format:    format,
		total:     total,
		emitEvery: int64(emitEvery),
	}
}

// Increment records one finished item and possibly emits an event.
// Safe for concurrent use.
func (t *Tracker) Increment() {
	n := t.done.Add(1)
	if n%t.emitEvery != 0 && n != int64(t.total) {
		return
	}
	t.reporter.Report(t.phase, fmt.Sprintf(t.format, n, t.total), int(n), t.total)
}

// Done returns the number of items recorded so far.
func (t *Tracker) Done() int {
	return int(t.done.Load())
}
