package counter

import (
	"context"
	"sync"

	"github.com/sweeney/waste-sorter/internal/logic"
)

// FakeClient is an in-memory counting service for tests.
// Safe for concurrent use because the usage worker calls it from its own goroutine.
type FakeClient struct {
	mu sync.Mutex

	// Stored holds the running totals.
	Stored logic.Counts

	// Posts records every delta passed to Post, including failed attempts.
	Posts []logic.Counts

	// PostError, if set, is returned by Post and nothing is stored.
	PostError error

	// LatestError, if set, is returned by Latest.
	LatestError error
}

// NewFakeClient creates a FakeClient with empty totals.
func NewFakeClient() *FakeClient {
	return &FakeClient{Stored: make(logic.Counts)}
}

// Latest returns a copy of the stored totals.
func (f *FakeClient) Latest(ctx context.Context) (logic.Counts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LatestError != nil {
		return nil, f.LatestError
	}
	return f.Stored.Clone(), nil
}

// Post records delta and merges it into the stored totals.
func (f *FakeClient) Post(ctx context.Context, delta logic.Counts) (logic.Counts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Posts = append(f.Posts, delta.Clone())
	if f.PostError != nil {
		return nil, f.PostError
	}
	f.Stored = Merge(f.Stored, delta)
	return f.Stored.Clone(), nil
}

// SetPostError changes the scripted Post error.
func (f *FakeClient) SetPostError(err error) {
	f.mu.Lock()
	f.PostError = err
	f.mu.Unlock()
}

// PostCount returns the number of Post calls so far.
func (f *FakeClient) PostCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Posts)
}

// LastPost returns the most recent delta, or nil.
func (f *FakeClient) LastPost() logic.Counts {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Posts) == 0 {
		return nil
	}
	return f.Posts[len(f.Posts)-1].Clone()
}
