// Package config loads the waste-sorter daemon configuration from a JSON file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sweeney/waste-sorter/internal/actuator"
	"github.com/sweeney/waste-sorter/internal/logic"
)

const (
	DefaultPath            = "/etc/waste-sorter/config.json"
	DefaultMinCount        = logic.DefaultMinCount
	DefaultMaxFrameAge     = 1.0
	DefaultFlushInterval   = 3600.0
	DefaultHeartbeat       = 900.0
	DefaultHTTP            = ":80"
	DefaultBroker          = "tcp://127.0.0.1:1883"
	DefaultClientID        = "waste-sorter"
	DefaultDetectionsTopic = "waste/sorter/detections"
	DefaultSerialPort      = "/dev/ttyACM0"
	DefaultChip            = "gpiochip0"
	DefaultCounterTimeout  = 10.0
	DefaultRedisKey        = "waste-sorter:counts"
)

// Actuator and counter types.
const (
	ActuatorGPIO   = "gpio"
	ActuatorSerial = "serial"
	ActuatorNone   = "none"
	CounterHTTP    = "http"
	CounterRedis   = "redis"
	CounterNone    = "none"
)

// Environment overrides.
const (
	envBroker     = "WASTE_SORTER_BROKER"
	envCounterURL = "WASTE_SORTER_COUNTER_URL"
	envRedisAddr  = "WASTE_SORTER_REDIS_ADDR"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Label is one configured category and its key at the counting service.
type Label struct {
	Name string `json:"name"`
	Key  string `json:"key,omitempty"`
}

// MQTT configures the broker connection.
type MQTT struct {
	Broker          string `json:"broker"`
	ClientID        string `json:"clientId"`
	DetectionsTopic string `json:"detectionsTopic"`
}

// Actuator selects and configures the actuator gateway.
type Actuator struct {
	Type string `json:"type"`
	Port string `json:"port,omitempty"`
	Baud int    `json:"baud,omitempty"`
	Chip string `json:"chip,omitempty"`
	Pins []int  `json:"pins,omitempty"`
}

// Counter selects and configures the remote counting service client.
type Counter struct {
	Type      string  `json:"type"`
	URL       string  `json:"url,omitempty"`
	Timeout   float64 `json:"timeout,omitempty"`
	RedisAddr string  `json:"redisAddr,omitempty"`
	RedisKey  string  `json:"redisKey,omitempty"`
}

// Config is the daemon configuration. Durations are in seconds.
type Config struct {
	Labels                 []Label  `json:"labels"`
	MinClassificationCount int      `json:"minClassificationCount"`
	MaxFrameAge            float64  `json:"maxFrameAge"`
	MinConfidence          float64  `json:"minConfidence"`
	FlushInterval          float64  `json:"flushInterval"`
	Heartbeat              float64  `json:"heartbeat"`
	HTTP                   string   `json:"http"`
	MQTT                   MQTT     `json:"mqtt"`
	Actuator               Actuator `json:"actuator"`
	Counter                Counter  `json:"counter"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Labels: []Label{
			{Name: "Containers", Key: "container"},
			{Name: "Paper", Key: "paper"},
			{Name: "Other", Key: "other"},
		},
		MinClassificationCount: DefaultMinCount,
		MaxFrameAge:            DefaultMaxFrameAge,
		FlushInterval:          DefaultFlushInterval,
		Heartbeat:              DefaultHeartbeat,
		HTTP:                   DefaultHTTP,
		MQTT: MQTT{
			Broker:          DefaultBroker,
			ClientID:        DefaultClientID,
			DetectionsTopic: DefaultDetectionsTopic,
		},
		Actuator: Actuator{
			Type: ActuatorSerial,
			Port: DefaultSerialPort,
			Baud: actuator.DefaultBaud,
			Chip: DefaultChip,
			Pins: []int{17, 27},
		},
		Counter: Counter{
			Type:     CounterNone,
			Timeout:  DefaultCounterTimeout,
			RedisKey: DefaultRedisKey,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and validates.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if v := os.Getenv(envBroker); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv(envCounterURL); v != "" {
		cfg.Counter.URL = v
	}
	if v := os.Getenv(envRedisAddr); v != "" {
		cfg.Counter.RedisAddr = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if len(c.Labels) == 0 {
		return invalid("at least one label is required")
	}
	names := make(map[string]bool, len(c.Labels))
	keys := make(map[string]bool, len(c.Labels))
	for _, l := range c.Labels {
		if l.Name == "" {
			return invalid("label name is empty")
		}
		if names[l.Name] {
			return invalid("duplicate label %q", l.Name)
		}
		names[l.Name] = true
		key := l.WireKey()
		if keys[key] {
			return invalid("duplicate counter key %q", key)
		}
		keys[key] = true
	}

	if c.MinClassificationCount < 1 {
		return invalid("minClassificationCount must be >= 1, got %d", c.MinClassificationCount)
	}
	if c.MaxFrameAge <= 0 {
		return invalid("maxFrameAge must be > 0, got %v", c.MaxFrameAge)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return invalid("minConfidence must be in [0,1], got %v", c.MinConfidence)
	}
	if c.FlushInterval <= 0 {
		return invalid("flushInterval must be > 0, got %v", c.FlushInterval)
	}
	if c.Heartbeat < 0 {
		return invalid("heartbeat must be >= 0, got %v", c.Heartbeat)
	}

	switch c.Actuator.Type {
	case ActuatorNone:
	case ActuatorSerial:
		if c.Actuator.Port == "" {
			return invalid("actuator.port is required for serial")
		}
		if len(c.Labels) > 255 {
			return invalid("serial actuator supports at most 255 labels")
		}
	case ActuatorGPIO:
		if need := actuator.PinsFor(len(c.Labels)); len(c.Actuator.Pins) < need {
			return invalid("actuator.pins: %d labels need %d pins, got %d", len(c.Labels), need, len(c.Actuator.Pins))
		}
	default:
		return invalid("unknown actuator type %q", c.Actuator.Type)
	}

	switch c.Counter.Type {
	case CounterNone:
	case CounterHTTP:
		if c.Counter.URL == "" {
			return invalid("counter.url is required for http")
		}
	case CounterRedis:
		if c.Counter.RedisAddr == "" {
			return invalid("counter.redisAddr is required for redis")
		}
	default:
		return invalid("unknown counter type %q", c.Counter.Type)
	}
	return nil
}

// WireKey returns the counter key, defaulting to the lower-case name.
func (l Label) WireKey() string {
	if l.Key != "" {
		return l.Key
	}
	return strings.ToLower(l.Name)
}

// LabelSet returns the ordered label set.
func (c *Config) LabelSet() (logic.Labels, error) {
	names := make([]string, len(c.Labels))
	for i, l := range c.Labels {
		names[i] = l.Name
	}
	return logic.NewLabels(names...)
}

// LabelNames returns the label names in order.
func (c *Config) LabelNames() []string {
	names := make([]string, len(c.Labels))
	for i, l := range c.Labels {
		names[i] = l.Name
	}
	return names
}

// CounterKeys maps each category to its counter key.
func (c *Config) CounterKeys() map[logic.Category]string {
	keys := make(map[logic.Category]string, len(c.Labels))
	for _, l := range c.Labels {
		keys[logic.Category(l.Name)] = l.WireKey()
	}
	return keys
}

// Decider returns the decision engine settings.
func (c *Config) Decider() logic.DeciderConfig {
	return logic.DeciderConfig{
		MinCount:      c.MinClassificationCount,
		MaxFrameAge:   Seconds(c.MaxFrameAge),
		MinConfidence: c.MinConfidence,
	}
}

// FlushIntervalDuration returns the usage flush interval.
func (c *Config) FlushIntervalDuration() time.Duration {
	return Seconds(c.FlushInterval)
}

// HeartbeatDuration returns the heartbeat interval; zero disables heartbeats.
func (c *Config) HeartbeatDuration() time.Duration {
	return Seconds(c.Heartbeat)
}

// CounterTimeout returns the HTTP counter request timeout.
func (c *Config) CounterTimeout() time.Duration {
	return Seconds(c.Counter.Timeout)
}

// Seconds converts fractional seconds to a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
