// Package logic contains pure business logic for waste category stabilization.
// This package has NO external dependencies (no GPIO, MQTT, HTTP, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Category is a waste category label from the configured label set.
// The empty Category means no category is active (idle).
type Category string

// Idle is the Category value used when no label is dominant.
const Idle Category = ""

// String returns the category name, or "IDLE" for the idle category.
func (c Category) String() string {
	if c == Idle {
		return "IDLE"
	}
	return string(c)
}

// BoundingBox is a detection box in normalized <0..1> frame coordinates.
type BoundingBox struct {
	XMin float64
	YMin float64
	XMax float64
	YMax float64
}

// Detection is a single classified object seen in a frame.
// Once ingested into a Window it must not be modified.
type Detection struct {
	Label      Category
	Confidence float64
	Box        BoundingBox
	Time       time.Time
}

// Frame is one batch of detections delivered by the detection source.
type Frame struct {
	Detections []Detection
	// Time is the local arrival time; every detection in the frame carries it.
	Time time.Time
	// Captured is the producer's capture time, if it sent one. Informational only.
	Captured time.Time
}

// Transition is emitted by the Decider when the active category changes.
type Transition struct {
	Time time.Time
	From Category
	To   Category
	// Code is the actuator mode code for To.
	Code int
}

// Counts maps a category to a count.
type Counts map[Category]int

// Total returns the sum of all counts.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Clone returns an independent copy of c.
func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp   time.Time
	Uptime      time.Duration
	Active      Category
	Transitions Counts
}
