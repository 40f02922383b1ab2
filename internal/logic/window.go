package logic

import "time"

// Window is a sliding time window of recent detections with live per-label counts.
// Events are kept in arrival order, so eviction only ever scans from the front.
// Not safe for concurrent use.
type Window struct {
	maxAge time.Duration
	events []Detection
	head   int // index of the oldest retained event
	counts Counts
}

// NewWindow creates an empty window retaining events for maxAge.
func NewWindow(maxAge time.Duration) *Window {
	return &Window{
		maxAge: maxAge,
		counts: make(Counts),
	}
}

// MaxAge returns the retention period.
func (w *Window) MaxAge() time.Duration {
	return w.maxAge
}

// Ingest appends d and counts it.
// A zero time, a time after now, or a time older than the newest retained
// event is clamped so the window stays in non-decreasing order.
func (w *Window) Ingest(d Detection, now time.Time) {
	if d.Time.IsZero() || d.Time.After(now) {
		d.Time = now
	}
	if n := len(w.events); n > w.head {
		if newest := w.events[n-1].Time; d.Time.Before(newest) {
			d.Time = now
			if d.Time.Before(newest) {
				d.Time = newest
			}
		}
	}
	w.events = append(w.events, d)
	w.counts[d.Label]++
}

// Evict drops every event older than now - maxAge.
// Calling it again with the same now changes nothing.
func (w *Window) Evict(now time.Time) {
	cutoff := now.Add(-w.maxAge)
	for w.head < len(w.events) && w.events[w.head].Time.Before(cutoff) {
		label := w.events[w.head].Label
		w.events[w.head] = Detection{}
		w.head++
		w.counts[label]--
		if w.counts[label] <= 0 {
			delete(w.counts, label)
		}
	}
	w.compact()
}

// compact reclaims the evicted prefix once it dominates the backing slice.
func (w *Window) compact() {
	if w.head == len(w.events) {
		w.events = w.events[:0]
		w.head = 0
		return
	}
	if w.head > 64 && w.head*2 > len(w.events) {
		n := copy(w.events, w.events[w.head:])
		w.events = w.events[:n]
		w.head = 0
	}
}

// Counts returns a snapshot of per-label counts for retained events.
func (w *Window) Counts() Counts {
	return w.counts.Clone()
}

// Len returns the number of retained events.
func (w *Window) Len() int {
	return len(w.events) - w.head
}

// Oldest returns the arrival time of the oldest retained event, and false if empty.
func (w *Window) Oldest() (time.Time, bool) {
	if w.Len() == 0 {
		return time.Time{}, false
	}
	return w.events[w.head].Time, true
}
