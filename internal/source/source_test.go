package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/waste-sorter/internal/logic"
)

var (
	testLabels = logic.MustLabels("Containers", "Paper", "Other")
	t0         = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
)

func TestToFrameResolvesLabels(t *testing.T) {
	b := Batch{
		Time: t0,
		Detections: []RawDetection{
			{Label: 1, Confidence: 0.9, XMin: 0.1, YMin: 0.2, XMax: 0.3, YMax: 0.4},
			{Label: 0, Confidence: 0.5},
		},
	}
	frame, err := ToFrame(b, testLabels, t0.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frame.Detections) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(frame.Detections))
	}
	d := frame.Detections[0]
	if d.Label != "Paper" || d.Confidence != 0.9 {
		t.Errorf("detection 0: got %+v", d)
	}
	if d.Box.XMin != 0.1 || d.Box.YMax != 0.4 {
		t.Errorf("box: got %+v", d.Box)
	}
	if !d.Time.Equal(t0.Add(time.Second)) {
		t.Errorf("detection time should be the local now, got %v", d.Time)
	}
	if !frame.Captured.Equal(t0) {
		t.Errorf("Captured should keep the batch time, got %v", frame.Captured)
	}
	if frame.Detections[1].Label != "Containers" {
		t.Errorf("detection 1: got %s", frame.Detections[1].Label)
	}
	if !frame.Time.Equal(t0.Add(time.Second)) {
		t.Errorf("frame time: got %v", frame.Time)
	}
}

func TestToFrameMissingTimeUsesNow(t *testing.T) {
	b := Batch{Detections: []RawDetection{{Label: 2, Confidence: 1}}}
	frame, err := ToFrame(b, testLabels, t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !frame.Detections[0].Time.Equal(t0) {
		t.Errorf("got %v, want %v", frame.Detections[0].Time, t0)
	}
	if !frame.Captured.IsZero() {
		t.Errorf("Captured: got %v, want zero", frame.Captured)
	}
}

// A producer whose clock lags ours by more than the window age must not
// have its detections evicted on arrival.
func TestToFrameLaggingProducerClock(t *testing.T) {
	d := logic.NewDecider(testLabels, logic.DeciderConfig{MinCount: 10, MaxFrameAge: time.Second}, t0)

	var tr *logic.Transition
	for i := 1; i <= 5 && tr == nil; i++ {
		now := t0.Add(time.Duration(i) * 100 * time.Millisecond)
		b := Batch{Time: now.Add(-1500 * time.Millisecond)}
		for j := 0; j < 10; j++ {
			b.Detections = append(b.Detections, RawDetection{Label: 1, Confidence: 0.9})
		}
		frame, err := ToFrame(b, testLabels, now)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		for _, det := range frame.Detections {
			if !det.Time.Equal(now) {
				t.Fatalf("tick %d: detection time %v, want %v", i, det.Time, now)
			}
		}
		tr = d.Process(frame)
	}
	if tr == nil || tr.To != "Paper" {
		t.Fatalf("expected transition to Paper, got %+v (active=%s window=%d)", tr, d.Active(), d.WindowLen())
	}
}

func TestToFrameUnknownLabel(t *testing.T) {
	for _, idx := range []int{-1, 3, 99} {
		b := Batch{Detections: []RawDetection{{Label: idx, Confidence: 1}}}
		_, err := ToFrame(b, testLabels, t0)
		if !errors.Is(err, logic.ErrUnknownLabel) {
			t.Errorf("label %d: expected ErrUnknownLabel, got %v", idx, err)
		}
	}
}

func TestDecodeBatch(t *testing.T) {
	data := []byte(`{"timestamp":"2026-01-01T12:00:00Z","detections":[{"label":1,"confidence":0.8,"xmin":0,"ymin":0,"xmax":1,"ymax":1}]}`)
	b, err := DecodeBatch(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.Time.Equal(t0) {
		t.Errorf("Time: got %v", b.Time)
	}
	if len(b.Detections) != 1 || b.Detections[0].Label != 1 || b.Detections[0].Confidence != 0.8 {
		t.Errorf("Detections: got %+v", b.Detections)
	}

	if _, err := DecodeBatch([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestFakeSource(t *testing.T) {
	ctx := context.Background()
	f := NewFakeSource(
		Batch{Detections: []RawDetection{{Label: 1}}},
		Batch{},
	)

	b, err := f.Next(ctx)
	if err != nil || len(b.Detections) != 1 {
		t.Fatalf("first: %+v, %v", b, err)
	}
	b, _ = f.Next(ctx)
	if !b.Empty() {
		t.Error("second batch should be empty")
	}
	// Exhausted sources yield empty batches.
	b, err = f.Next(ctx)
	if err != nil || !b.Empty() {
		t.Errorf("exhausted: %+v, %v", b, err)
	}

	f.Close()
	if _, err := f.Next(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestMQTTSourceQueueDropsOldest(t *testing.T) {
	s := newMQTTSource("", 10*time.Millisecond, func() time.Time { return t0 })
	for i := 0; i < queueSize+3; i++ {
		s.handle([]byte(`{"detections":[{"label":` + string(rune('0'+i%3)) + `}]}`))
	}
	if s.Dropped() != 3 {
		t.Errorf("Dropped: got %d, want 3", s.Dropped())
	}

	b, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Fourth message (i=3) is now the oldest retained.
	if b.Detections[0].Label != 0 {
		t.Errorf("oldest retained label: got %d, want 0", b.Detections[0].Label)
	}
	if !b.Time.Equal(t0) {
		t.Errorf("missing timestamp should take arrival time, got %v", b.Time)
	}
}

func TestMQTTSourceInvalidPayload(t *testing.T) {
	s := newMQTTSource("", 10*time.Millisecond, time.Now)
	s.handle([]byte("{"))
	if s.Invalid() != 1 {
		t.Errorf("Invalid: got %d", s.Invalid())
	}
	b, err := s.Next(context.Background())
	if err != nil || !b.Empty() {
		t.Errorf("expected empty batch after wait, got %+v, %v", b, err)
	}
}

func TestMQTTSourceNextContextCancel(t *testing.T) {
	s := newMQTTSource("", time.Minute, time.Now)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMQTTSourceCloseWithoutClient(t *testing.T) {
	s := newMQTTSource("custom/topic", 0, time.Now)
	if s.topic != "custom/topic" || s.wait != DefaultWait {
		t.Errorf("defaults: topic=%s wait=%v", s.topic, s.wait)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
