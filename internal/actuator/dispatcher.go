package actuator

import (
	"log"
	"sync"
)

// QueueSize is the number of pending modes the Dispatcher holds.
const QueueSize = 8

// Result describes one applied (or failed) mode change.
type Result struct {
	Code int
	Err  error
}

// Stats are cumulative dispatcher counters.
type Stats struct {
	Applied  int
	Errors   int
	Dropped  int
	LastCode int
	LastErr  error
}

// noCode marks that the gateway state is unknown: nothing sent yet, or the
// last attempt failed.
const noCode = -1

// Dispatcher applies mode changes on its own goroutine so a slow or failing
// gateway never stalls frame processing. When the queue is full the oldest
// pending mode is dropped; the newest intent always wins. The gateway never
// receives the same code twice in a row.
type Dispatcher struct {
	gw Gateway

	// OnResult, if set, is called from the dispatcher goroutine after every SetMode.
	OnResult func(Result)

	mu      sync.Mutex
	queue   []int
	sent    int // last code handed to the gateway, or noCode
	closing bool
	stats   Stats

	wake chan struct{}
	done chan struct{}
}

// NewDispatcher creates a Dispatcher for gw. Call Start before SetMode.
func NewDispatcher(gw Gateway) *Dispatcher {
	return &Dispatcher{
		gw:    gw,
		queue: make([]int, 0, QueueSize),
		sent:  noCode,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Start launches the dispatcher goroutine.
func (d *Dispatcher) Start() {
	go d.run()
}

// SetMode queues code. It never blocks.
func (d *Dispatcher) SetMode(code int) error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		log.Printf("actuator: dispatcher closed, ignoring mode %d", code)
		return nil
	}
	if code == d.tail() {
		d.mu.Unlock()
		return nil
	}
	if len(d.queue) >= QueueSize {
		d.dropHead()
		// The new head would repeat what the gateway already has.
		if len(d.queue) > 0 && d.queue[0] == d.sent {
			d.dropHead()
		}
	}
	d.queue = append(d.queue, code)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// tail is the code the gateway will hold once the queue drains.
// Callers hold d.mu.
func (d *Dispatcher) tail() int {
	if n := len(d.queue); n > 0 {
		return d.queue[n-1]
	}
	return d.sent
}

// dropHead discards the oldest pending mode. Callers hold d.mu.
func (d *Dispatcher) dropHead() {
	dropped := d.queue[0]
	d.queue = append(d.queue[:0], d.queue[1:]...)
	d.stats.Dropped++
	log.Printf("actuator: queue full, dropped pending mode %d", dropped)
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Pending returns the number of queued modes.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close applies any queued modes, returns the actuator to mode 0 and closes the gateway.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		<-d.done
		return nil
	}
	d.closing = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done

	if d.Stats().LastCode != 0 {
		d.apply(0)
	}
	return d.gw.Close()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for range d.wake {
		for {
			code, ok := d.next()
			if !ok {
				break
			}
			d.apply(code)
		}

		d.mu.Lock()
		closing := d.closing && len(d.queue) == 0
		d.mu.Unlock()
		if closing {
			return
		}
	}
}

func (d *Dispatcher) next() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return 0, false
	}
	code := d.queue[0]
	d.queue = append(d.queue[:0], d.queue[1:]...)
	d.sent = code
	return code, true
}

func (d *Dispatcher) apply(code int) {
	err := d.gw.SetMode(code)

	d.mu.Lock()
	if err != nil {
		d.stats.Errors++
		d.stats.LastErr = err
		d.sent = noCode
	} else {
		d.stats.Applied++
		d.stats.LastCode = code
		d.stats.LastErr = nil
	}
	d.mu.Unlock()

	if err != nil {
		log.Printf("actuator: set mode %d failed: %v", code, err)
	} else {
		log.Printf("actuator: mode %d", code)
	}
	if d.OnResult != nil {
		d.OnResult(Result{Code: code, Err: err})
	}
}
