package actuator

import "sync"

// FakeGateway is a test double that records every mode it is sent.
type FakeGateway struct {
	mu sync.Mutex

	// Modes records successfully applied codes in order.
	Modes []int

	// Attempts counts every SetMode call, including failed ones.
	Attempts int

	// Closed tracks if Close was called
	Closed bool

	// SetError, if set, will be returned by SetMode
	SetError error

	// Block, if set, makes SetMode wait until it is closed.
	Block chan struct{}
}

// NewFakeGateway creates a FakeGateway.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{}
}

// SetMode records code unless an error is scripted.
func (f *FakeGateway) SetMode(code int) error {
	if f.Block != nil {
		<-f.Block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Attempts++
	if f.SetError != nil {
		return f.SetError
	}
	f.Modes = append(f.Modes, code)
	return nil
}

// Close marks the gateway as closed.
func (f *FakeGateway) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Sent returns a copy of the applied modes.
func (f *FakeGateway) Sent() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.Modes))
	copy(out, f.Modes)
	return out
}

// SetErr changes the scripted SetMode error.
func (f *FakeGateway) SetErr(err error) {
	f.mu.Lock()
	f.SetError = err
	f.mu.Unlock()
}

// IsClosed reports whether Close was called.
func (f *FakeGateway) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}
