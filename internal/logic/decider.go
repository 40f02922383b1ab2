package logic

import "time"

// Default decider settings.
const (
	DefaultMinCount    = 10
	DefaultMaxFrameAge = time.Second
)

// DeciderConfig configures a Decider.
type DeciderConfig struct {
	// MinCount is the minimum window count for a label to become active.
	MinCount int
	// MaxFrameAge is how long a detection stays in the window.
	MaxFrameAge time.Duration
	// MinConfidence drops detections below this confidence before they are counted.
	MinConfidence float64
}

// Decider turns noisy per-frame detections into debounced category transitions.
type Decider struct {
	cfg            DeciderConfig
	labels         Labels
	window         *Window
	active         Category
	lastTransition time.Time
	transitions    Counts
	startTime      time.Time
	lastHeartbeat  time.Time
}

// NewDecider creates a decider in the idle state.
// The startTime is used for calculating uptime in heartbeat events.
func NewDecider(labels Labels, cfg DeciderConfig, startTime time.Time) *Decider {
	if cfg.MinCount <= 0 {
		cfg.MinCount = DefaultMinCount
	}
	if cfg.MaxFrameAge <= 0 {
		cfg.MaxFrameAge = DefaultMaxFrameAge
	}
	return &Decider{
		cfg:           cfg,
		labels:        labels,
		window:        NewWindow(cfg.MaxFrameAge),
		transitions:   make(Counts),
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Process ingests a frame and returns a transition if the active category changed.
// The caller owns the side effects (actuator, usage, publishing).
func (d *Decider) Process(frame Frame) *Transition {
	now := frame.Time

	for _, det := range filterConfident(frame.Detections, d.cfg.MinConfidence) {
		d.window.Ingest(det, now)
	}
	d.window.Evict(now)

	candidate, unique := dominant(d.window.Counts(), d.cfg.MinCount)
	if !unique {
		// Tie at the top: hold the current state.
		return nil
	}
	if candidate == d.active {
		return nil
	}

	t := &Transition{
		Time: now,
		From: d.active,
		To:   candidate,
		Code: d.labels.ModeCode(candidate),
	}
	d.active = candidate
	d.lastTransition = now
	d.transitions[candidate]++
	return t
}

// filterConfident returns a new slice with detections at or above min.
// The input slice is never modified.
func filterConfident(dets []Detection, min float64) []Detection {
	if min <= 0 {
		return dets
	}
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= min {
			out = append(out, d)
		}
	}
	return out
}

// dominant picks the category the window currently supports.
// It returns (Idle, true) when no label reaches minCount, (label, true) for a
// unique qualifying maximum, and (Idle, false) when qualifying labels tie.
func dominant(counts Counts, minCount int) (Category, bool) {
	best := Idle
	bestCount := 0
	tied := false
	for label, n := range counts {
		switch {
		case n > bestCount:
			best, bestCount, tied = label, n, false
		case n == bestCount:
			tied = true
		}
	}
	if bestCount < minCount {
		return Idle, true
	}
	if tied {
		return Idle, false
	}
	return best, true
}

// Active returns the currently active category (Idle if none).
func (d *Decider) Active() Category {
	return d.active
}

// LastTransition returns the time of the last state change.
func (d *Decider) LastTransition() time.Time {
	return d.lastTransition
}

// WindowCounts returns a snapshot of the live window counts.
func (d *Decider) WindowCounts() Counts {
	return d.window.Counts()
}

// WindowLen returns the number of detections currently retained.
func (d *Decider) WindowLen() int {
	return d.window.Len()
}

// TransitionCounts returns how many times each state was entered since startup.
// Entries into the idle state are keyed by Idle.
func (d *Decider) TransitionCounts() Counts {
	return d.transitions.Clone()
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (d *Decider) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp:   now,
		Uptime:      now.Sub(d.startTime),
		Active:      d.active,
		Transitions: d.transitions.Clone(),
	}
}
