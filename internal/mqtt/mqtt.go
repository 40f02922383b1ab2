// Package mqtt publishes sorter transitions and system lifecycle events.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/waste-sorter/internal/logic"
)

// Topic is the MQTT topic for category transitions.
const Topic = "waste/sorter/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "waste/sorter/system"

// Event names used on TopicSystem.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventReconnected = "RECONNECTED"
	EventOffline     = "OFFLINE"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a category transition. Failures are reported, never fatal.
	Publish(t logic.Transition) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event.
type SystemEvent struct {
	Timestamp time.Time
	Event     string
	Reason    string // shutdown only, e.g. "SIGTERM"
	// RawPayload, if set, is sent as-is (used for full status snapshots).
	RawPayload []byte
	Retained   bool
}

// Payload is the transition message body.
type Payload struct {
	Sorter SorterPayload `json:"sorter"`
}

// SorterPayload contains the transition details.
type SorterPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"` // ACTIVE or IDLE
	From      string `json:"from"`
	To        string `json:"to"`
	Mode      int    `json:"mode"`
}

// EventName returns ACTIVE for a transition into a category and IDLE for a
// transition back to no category.
func EventName(t logic.Transition) string {
	if t.To == logic.Idle {
		return "IDLE"
	}
	return "ACTIVE"
}

// FormatPayload creates the JSON payload for a transition.
func FormatPayload(t logic.Transition) ([]byte, error) {
	return json.Marshal(Payload{
		Sorter: SorterPayload{
			Timestamp: t.Time.UTC().Format(time.RFC3339),
			Event:     EventName(t),
			From:      t.From.String(),
			To:        t.To.String(),
			Mode:      t.Code,
		},
	})
}

// SystemPayload is the body for simple system events (LWT, RECONNECTED)
// that do not carry a status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// A RawPayload is returned unchanged.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
