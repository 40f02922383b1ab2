// Package counter reports aggregate usage counts to the remote counting service.
// The HTTP client talks to the stats API; the Redis client keeps the running
// totals in a hash. The fake client allows testing without a network.
package counter

import (
	"context"
	"strings"

	"github.com/sweeney/waste-sorter/internal/logic"
)

// Client reads and merges usage counts on the remote service.
type Client interface {
	// Latest returns the most recently stored totals.
	Latest(ctx context.Context) (logic.Counts, error)

	// Post adds delta to the stored totals and returns the merged snapshot.
	// The remote totals are never overwritten by delta alone.
	Post(ctx context.Context, delta logic.Counts) (logic.Counts, error)
}

// KeyMap translates between categories and the field names used on the wire.
type KeyMap struct {
	toKey      map[logic.Category]string
	toCategory map[string]logic.Category
}

// NewKeyMap builds a KeyMap. Categories missing from keys use their lower-case name.
func NewKeyMap(labels logic.Labels, keys map[logic.Category]string) KeyMap {
	m := KeyMap{
		toKey:      make(map[logic.Category]string, labels.Len()),
		toCategory: make(map[string]logic.Category, labels.Len()),
	}
	for _, c := range labels.All() {
		k := keys[c]
		if k == "" {
			k = strings.ToLower(string(c))
		}
		m.toKey[c] = k
		m.toCategory[k] = c
	}
	return m
}

// Key returns the wire name for c.
func (m KeyMap) Key(c logic.Category) string {
	return m.toKey[c]
}

// Encode converts counts to a wire object, with every known key present.
func (m KeyMap) Encode(counts logic.Counts) map[string]int {
	out := make(map[string]int, len(m.toKey))
	for c, k := range m.toKey {
		out[k] = counts[c]
	}
	return out
}

// Decode converts a wire object to counts. Unknown keys are ignored.
func (m KeyMap) Decode(obj map[string]int) logic.Counts {
	out := make(logic.Counts, len(m.toKey))
	for c := range m.toKey {
		out[c] = 0
	}
	for k, v := range obj {
		if c, ok := m.toCategory[k]; ok {
			out[c] = v
		}
	}
	return out
}

// Merge returns a + b over every key present in either.
func Merge(a, b logic.Counts) logic.Counts {
	out := a.Clone()
	for c, v := range b {
		out[c] += v
	}
	return out
}
