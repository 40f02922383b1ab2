// Package source delivers batches of already-inferred detections to the
// decision loop.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/waste-sorter/internal/logic"
)

// DefaultWait is how long Next waits for a batch before returning an empty one.
const DefaultWait = 100 * time.Millisecond

// Source yields detection batches.
type Source interface {
	// Next blocks until a batch is available, the wait window elapses
	// (returning an empty batch), or ctx is done.
	Next(ctx context.Context) (Batch, error)

	// Close releases the source.
	Close() error
}

// RawDetection is one classifier output with its label still an index
// into the configured label set.
type RawDetection struct {
	Label      int     `json:"label"`
	Confidence float64 `json:"confidence"`
	XMin       float64 `json:"xmin"`
	YMin       float64 `json:"ymin"`
	XMax       float64 `json:"xmax"`
	YMax       float64 `json:"ymax"`
}

// Batch is the set of detections for one camera frame.
type Batch struct {
	// Frame is the optional encoded image the detections came from.
	Frame      []byte         `json:"frame,omitempty"`
	Detections []RawDetection `json:"detections"`
	Time       time.Time      `json:"timestamp"`
}

// Empty reports whether the batch carries no detections.
func (b Batch) Empty() bool {
	return len(b.Detections) == 0
}

// ToFrame resolves label indices against labels. An index outside the set
// yields an error wrapping logic.ErrUnknownLabel.
// Detections are stamped with the local now; the producer's timestamp is
// kept only as Frame.Captured and never drives eviction.
func ToFrame(b Batch, labels logic.Labels, now time.Time) (logic.Frame, error) {
	frame := logic.Frame{
		Detections: make([]logic.Detection, 0, len(b.Detections)),
		Time:       now,
		Captured:   b.Time,
	}
	for i, raw := range b.Detections {
		label, err := labels.Resolve(raw.Label)
		if err != nil {
			return logic.Frame{}, fmt.Errorf("detection %d: %w", i, err)
		}
		frame.Detections = append(frame.Detections, logic.Detection{
			Label:      label,
			Confidence: raw.Confidence,
			Box: logic.BoundingBox{
				XMin: raw.XMin,
				YMin: raw.YMin,
				XMax: raw.XMax,
				YMax: raw.YMax,
			},
			Time: now,
		})
	}
	return frame, nil
}

// DecodeBatch parses a JSON batch. A missing timestamp is left zero.
func DecodeBatch(data []byte) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("decode batch: %w", err)
	}
	return b, nil
}
