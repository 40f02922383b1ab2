package mqtt

import "log"

// DefaultOutboxSize is the number of messages held while the broker is unreachable.
const DefaultOutboxSize = 256

// outboxMsg is a serialized message waiting for the broker to come back.
type outboxMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity ring that keeps the newest messages.
// Not safe for concurrent use; RealPublisher guards it with its mutex.
type outbox struct {
	slots   []outboxMsg
	next    int
	n       int
	dropped int
	warned  bool
}

func newOutbox(size int) *outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &outbox{slots: make([]outboxMsg, size)}
}

// add stores msg, overwriting the oldest message when full.
func (o *outbox) add(msg outboxMsg) {
	o.slots[o.next] = msg
	o.next = (o.next + 1) % len(o.slots)
	if o.n < len(o.slots) {
		o.n++
		return
	}
	o.dropped++
	if !o.warned {
		log.Printf("mqtt: outbox full (%d messages), dropping oldest", len(o.slots))
		o.warned = true
	}
}

// takeAll returns the stored messages oldest first and empties the outbox.
func (o *outbox) takeAll() []outboxMsg {
	if o.n == 0 {
		return nil
	}
	out := make([]outboxMsg, 0, o.n)
	first := (o.next - o.n + len(o.slots)) % len(o.slots)
	for i := 0; i < o.n; i++ {
		idx := (first + i) % len(o.slots)
		out = append(out, o.slots[idx])
		o.slots[idx] = outboxMsg{}
	}
	o.n = 0
	o.next = 0
	o.warned = false
	return out
}

func (o *outbox) size() int {
	return o.n
}
