// Package usage accumulates confirmed category transitions and flushes them
// to the remote counting service on a fixed interval.
package usage

import (
	"context"
	"time"

	"github.com/sweeney/waste-sorter/internal/counter"
	"github.com/sweeney/waste-sorter/internal/logic"
)

// DefaultInterval is the flush interval when none is configured.
const DefaultInterval = time.Hour

// Aggregator holds usage totals since the last successful flush.
// Totals are cleared only together with a successful post, so a failed
// flush is retried with the same counts on the next due check.
// Not safe for concurrent use; the Worker owns it.
type Aggregator struct {
	labels    logic.Labels
	totals    logic.Counts
	interval  time.Duration
	lastFlush time.Time
	remote    logic.Counts
	failures  int
}

// NewAggregator creates an aggregator whose first flush is due one interval after start.
func NewAggregator(labels logic.Labels, interval time.Duration, start time.Time) *Aggregator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Aggregator{
		labels:    labels,
		totals:    labels.Zero(),
		interval:  interval,
		lastFlush: start,
	}
}

// Record counts one confirmed transition into label.
func (a *Aggregator) Record(label logic.Category) {
	if label == logic.Idle {
		return
	}
	a.totals[label]++
}

// Add merges a batch of recorded transitions. Idle entries are ignored.
func (a *Aggregator) Add(counts logic.Counts) {
	for label, n := range counts {
		if label == logic.Idle || n <= 0 {
			continue
		}
		a.totals[label] += n
	}
}

// Due reports whether a flush is due at now.
func (a *Aggregator) Due(now time.Time) bool {
	return now.Sub(a.lastFlush) >= a.interval
}

// MaybeFlush posts the totals if a flush is due. It reports whether the
// flush timer advanced. On error the totals and timer are left untouched.
func (a *Aggregator) MaybeFlush(ctx context.Context, now time.Time, client counter.Client) (bool, error) {
	if !a.Due(now) {
		return false, nil
	}
	return a.Flush(ctx, now, client)
}

// Flush posts the totals regardless of the timer.
// An interval with nothing recorded advances the timer without a network call.
func (a *Aggregator) Flush(ctx context.Context, now time.Time, client counter.Client) (bool, error) {
	if a.totals.Total() == 0 {
		a.lastFlush = now
		return true, nil
	}

	merged, err := client.Post(ctx, a.totals.Clone())
	if err != nil {
		a.failures++
		return false, err
	}

	a.totals = a.labels.Zero()
	a.lastFlush = now
	a.remote = merged
	a.failures = 0
	return true, nil
}

// Pending returns a copy of the totals not yet flushed.
func (a *Aggregator) Pending() logic.Counts {
	return a.totals.Clone()
}

// LastFlush returns the time the flush timer last advanced.
func (a *Aggregator) LastFlush() time.Time {
	return a.lastFlush
}

// Interval returns the flush interval.
func (a *Aggregator) Interval() time.Duration {
	return a.interval
}

// Remote returns the merged totals returned by the last successful post, or nil.
func (a *Aggregator) Remote() logic.Counts {
	if a.remote == nil {
		return nil
	}
	return a.remote.Clone()
}

// Failures returns the number of consecutive failed posts.
func (a *Aggregator) Failures() int {
	return a.failures
}
