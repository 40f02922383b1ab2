package source

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("source: closed")

// FakeSource is a test double that returns scripted batches.
type FakeSource struct {
	mu sync.Mutex

	// Batches contains scripted batches; each Next consumes one.
	// When exhausted, Next returns empty batches.
	Batches []Batch

	index int

	// NextError, if set, will be returned by Next.
	NextError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeSource creates a FakeSource with the given batches.
func NewFakeSource(batches ...Batch) *FakeSource {
	return &FakeSource{Batches: batches}
}

// Next returns the next scripted batch.
func (f *FakeSource) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Closed {
		return Batch{}, ErrClosed
	}
	if f.NextError != nil {
		return Batch{}, f.NextError
	}
	if f.index >= len(f.Batches) {
		return Batch{}, nil
	}
	b := f.Batches[f.index]
	f.index++
	return b, nil
}

// Remaining returns how many scripted batches have not been consumed.
func (f *FakeSource) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Batches) - f.index
}

// Close marks the source as closed.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
