// Package status provides a thread-safe status tracker for the waste-sorter daemon.
// It is read by HTTP handlers and by the heartbeat publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/waste-sorter/internal/logic"
)

// NetworkInfo contains network state as reported by the host helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Labels          []string
	MinCount        int
	MaxFrameAgeMs   int64
	MinConfidence   float64
	FlushIntervalMs int64
	HeartbeatMs     int64
	Broker          string
	HTTPPort        string
	Actuator        string
	Counter         string
}

// Usage is the usage aggregator's view.
type Usage struct {
	Pending   logic.Counts
	Remote    logic.Counts
	LastFlush time.Time
	Failures  int
	LastError string
}

// Actuator is the actuator dispatcher's view.
type Actuator struct {
	Mode      int
	Applied   int
	Errors    int
	Dropped   int
	LastError string
}

// Snapshot is a point-in-time view of daemon state.
// Maps are copies; a Snapshot is safe to use after the lock is released.
type Snapshot struct {
	Active         logic.Category
	LastTransition time.Time
	Window         logic.Counts
	Transitions    logic.Counts
	Usage          Usage
	Actuator       Actuator
	StartTime      time.Time
	Now            time.Time
	MQTTConnected  bool
	Network        *NetworkInfo
	Config         Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// UpdateDecision records the decider state. Called from runLoop on every frame.
func (t *Tracker) UpdateDecision(active logic.Category, lastTransition time.Time, window, transitions logic.Counts) {
	window = window.Clone()
	transitions = transitions.Clone()
	t.mu.Lock()
	t.snap.Active = active
	t.snap.LastTransition = lastTransition
	t.snap.Window = window
	t.snap.Transitions = transitions
	t.mu.Unlock()
}

// UpdateUsage records the aggregator state after a flush check.
func (t *Tracker) UpdateUsage(u Usage) {
	u.Pending = u.Pending.Clone()
	if u.Remote != nil {
		u.Remote = u.Remote.Clone()
	}
	t.mu.Lock()
	t.snap.Usage = u
	t.mu.Unlock()
}

// UpdateActuator records the dispatcher state after a mode change.
func (t *Tracker) UpdateActuator(a Actuator) {
	t.mu.Lock()
	t.snap.Actuator = a
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Window = s.Window.Clone()
	s.Transitions = s.Transitions.Clone()
	s.Usage.Pending = s.Usage.Pending.Clone()
	if s.Usage.Remote != nil {
		s.Usage.Remote = s.Usage.Remote.Clone()
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
