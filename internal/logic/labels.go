package logic

import (
	"errors"
	"fmt"
)

// ErrUnknownLabel is returned when the inference pipeline reports a label
// index outside the configured label set.
var ErrUnknownLabel = errors.New("unknown label")

// Labels is the ordered, configured set of categories.
// Mode codes are assigned by position: Idle is 0, the i-th label is i+1.
type Labels struct {
	names []Category
	codes map[Category]int
}

// NewLabels builds a label set. Names must be non-empty and unique.
func NewLabels(names ...string) (Labels, error) {
	if len(names) == 0 {
		return Labels{}, errors.New("labels: at least one label is required")
	}
	l := Labels{
		names: make([]Category, 0, len(names)),
		codes: make(map[Category]int, len(names)),
	}
	for i, n := range names {
		if n == "" {
			return Labels{}, fmt.Errorf("labels: label %d is empty", i)
		}
		c := Category(n)
		if _, dup := l.codes[c]; dup {
			return Labels{}, fmt.Errorf("labels: duplicate label %q", n)
		}
		l.names = append(l.names, c)
		l.codes[c] = i + 1
	}
	return l, nil
}

// MustLabels is like NewLabels but panics on error. Intended for tests and constants.
func MustLabels(names ...string) Labels {
	l, err := NewLabels(names...)
	if err != nil {
		panic(err)
	}
	return l
}

// Len returns the number of configured categories.
func (l Labels) Len() int {
	return len(l.names)
}

// All returns the categories in configuration order.
func (l Labels) All() []Category {
	out := make([]Category, len(l.names))
	copy(out, l.names)
	return out
}

// Resolve maps an inference label index to its category.
func (l Labels) Resolve(index int) (Category, error) {
	if index < 0 || index >= len(l.names) {
		return Idle, fmt.Errorf("%w: index %d (have %d labels)", ErrUnknownLabel, index, len(l.names))
	}
	return l.names[index], nil
}

// Contains reports whether c is a configured category.
func (l Labels) Contains(c Category) bool {
	_, ok := l.codes[c]
	return ok
}

// ModeCode returns the actuator mode code for c. Idle and unknown categories map to 0.
func (l Labels) ModeCode(c Category) int {
	return l.codes[c]
}

// Category returns the category for a mode code, and false if the code is
// neither 0 nor assigned.
func (l Labels) Category(code int) (Category, bool) {
	if code == 0 {
		return Idle, true
	}
	if code < 0 || code > len(l.names) {
		return Idle, false
	}
	return l.names[code-1], true
}

// Zero returns a Counts with every category present at zero.
func (l Labels) Zero() Counts {
	out := make(Counts, len(l.names))
	for _, c := range l.names {
		out[c] = 0
	}
	return out
}
