package source

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// DefaultTopic is where the inference process publishes detection batches.
const DefaultTopic = "waste/sorter/detections"

// queueSize bounds the batches held between the MQTT callback and Next.
const queueSize = 16

// MQTTSource subscribes to a detections topic and queues decoded batches.
// When the queue is full the oldest batch is dropped.
type MQTTSource struct {
	client paho.Client
	topic  string
	wait   time.Duration
	now    func() time.Time

	queue chan Batch

	mu      sync.Mutex
	dropped int
	invalid int
}

// MQTTOptions configures an MQTTSource.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Topic    string
	Wait     time.Duration
}

// NewMQTTSource connects to the broker and subscribes to the detections topic.
// The subscription is renewed on every reconnect.
func NewMQTTSource(o MQTTOptions) (*MQTTSource, error) {
	s := newMQTTSource(o.Topic, o.Wait, time.Now)

	clientID := o.ClientID
	if clientID == "" {
		clientID = "waste-sorter"
	}
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(clientID + "-detections").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c paho.Client) {
			token := c.Subscribe(s.topic, 0, func(_ paho.Client, m paho.Message) {
				s.handle(m.Payload())
			})
			if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
				log.Printf("source: subscribe %s failed: %v", s.topic, token.Error())
				return
			}
			log.Printf("source: subscribed to %s", s.topic)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("source: connection lost: %v", err)
		})

	s.client = paho.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// ConnectRetry keeps trying in the background.
		log.Printf("source: broker %s not reachable yet, retrying", o.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return s, nil
}

func newMQTTSource(topic string, wait time.Duration, now func() time.Time) *MQTTSource {
	if topic == "" {
		topic = DefaultTopic
	}
	if wait <= 0 {
		wait = DefaultWait
	}
	return &MQTTSource{
		topic: topic,
		wait:  wait,
		now:   now,
		queue: make(chan Batch, queueSize),
	}
}

// handle decodes a message and queues it, dropping the oldest batch if needed.
func (s *MQTTSource) handle(payload []byte) {
	b, err := DecodeBatch(payload)
	if err != nil {
		s.mu.Lock()
		s.invalid++
		s.mu.Unlock()
		log.Printf("source: %v", err)
		return
	}
	if b.Time.IsZero() {
		b.Time = s.now()
	}

	for {
		select {
		case s.queue <- b:
			return
		default:
		}
		select {
		case <-s.queue:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		default:
		}
	}
}

// Next waits up to the configured wait for a batch.
func (s *MQTTSource) Next(ctx context.Context) (Batch, error) {
	timer := time.NewTimer(s.wait)
	defer timer.Stop()
	select {
	case b := <-s.queue:
		return b, nil
	case <-timer.C:
		return Batch{}, nil
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	}
}

// Dropped returns the number of batches discarded because the queue was full.
func (s *MQTTSource) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Invalid returns the number of messages that could not be decoded.
func (s *MQTTSource) Invalid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalid
}

// Close unsubscribes and disconnects.
func (s *MQTTSource) Close() error {
	if s.client == nil {
		return nil
	}
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.topic).WaitTimeout(time.Second)
	}
	s.client.Disconnect(1000)
	return nil
}
