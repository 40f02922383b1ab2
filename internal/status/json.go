package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/waste-sorter/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event          string         `json:"event,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Active         string         `json:"active"`
	Mode           int            `json:"mode"`
	LastTransition string         `json:"last_transition,omitempty"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
	StartTime      string         `json:"start_time"`
	Timestamp      string         `json:"timestamp"`
	MQTT           MQTTStatus     `json:"mqtt"`
	Window         map[string]int `json:"window"`
	Transitions    map[string]int `json:"transitions"`
	Usage          UsageJSON      `json:"usage"`
	Actuator       ActuatorJSON   `json:"actuator"`
	Network        *NetworkJSON   `json:"network,omitempty"`
	Config         ConfigJSON     `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// UsageJSON is the JSON representation of the usage aggregator.
type UsageJSON struct {
	Pending   map[string]int `json:"pending"`
	Remote    map[string]int `json:"remote,omitempty"`
	LastFlush string         `json:"last_flush"`
	Failures  int            `json:"flush_failures"`
	LastError string         `json:"last_error,omitempty"`
}

// ActuatorJSON is the JSON representation of the actuator dispatcher.
type ActuatorJSON struct {
	Mode      int    `json:"mode"`
	Applied   int    `json:"applied"`
	Errors    int    `json:"errors"`
	Dropped   int    `json:"dropped"`
	LastError string `json:"last_error,omitempty"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Labels          []string `json:"labels"`
	MinCount        int      `json:"min_classification_count"`
	MaxFrameAgeMs   int64    `json:"max_frame_age_ms"`
	MinConfidence   float64  `json:"min_confidence"`
	FlushIntervalMs int64    `json:"flush_interval_ms"`
	HeartbeatMs     int64    `json:"heartbeat_ms"`
	Broker          string   `json:"broker"`
	HTTPPort        string   `json:"http_port"`
	Actuator        string   `json:"actuator"`
	Counter         string   `json:"counter"`
}

// ModeOf returns the mode code of the active category, by position in the configured labels.
func ModeOf(snap Snapshot) int {
	if snap.Active == logic.Idle {
		return 0
	}
	for i, name := range snap.Config.Labels {
		if logic.Category(name) == snap.Active {
			return i + 1
		}
	}
	return 0
}

// countsJSON renders counts keyed by label, with every configured label present.
func countsJSON(c logic.Counts, labels []string) map[string]int {
	out := make(map[string]int, len(labels))
	for _, name := range labels {
		out[name] = c[logic.Category(name)]
	}
	for k, v := range c {
		out[k.String()] = v
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	labels := snap.Config.Labels
	inner := StatusInner{
		Active:         snap.Active.String(),
		Mode:           ModeOf(snap),
		LastTransition: formatTime(snap.LastTransition),
		UptimeSeconds:  int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:      snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:      snap.Now.UTC().Format(time.RFC3339),
		MQTT:           MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Window:         countsJSON(snap.Window, labels),
		Transitions:    countsJSON(snap.Transitions, labels),
		Usage: UsageJSON{
			Pending:   countsJSON(snap.Usage.Pending, labels),
			LastFlush: formatTime(snap.Usage.LastFlush),
			Failures:  snap.Usage.Failures,
			LastError: snap.Usage.LastError,
		},
		Actuator: ActuatorJSON{
			Mode:      snap.Actuator.Mode,
			Applied:   snap.Actuator.Applied,
			Errors:    snap.Actuator.Errors,
			Dropped:   snap.Actuator.Dropped,
			LastError: snap.Actuator.LastError,
		},
		Config: ConfigJSON{
			Labels:          labels,
			MinCount:        snap.Config.MinCount,
			MaxFrameAgeMs:   snap.Config.MaxFrameAgeMs,
			MinConfidence:   snap.Config.MinConfidence,
			FlushIntervalMs: snap.Config.FlushIntervalMs,
			HeartbeatMs:     snap.Config.HeartbeatMs,
			Broker:          snap.Config.Broker,
			HTTPPort:        snap.Config.HTTPPort,
			Actuator:        snap.Config.Actuator,
			Counter:         snap.Config.Counter,
		},
	}
	if snap.Usage.Remote != nil {
		inner.Usage.Remote = countsJSON(snap.Usage.Remote, labels)
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
