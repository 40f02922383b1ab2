package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/sweeney/waste-sorter/internal/actuator"
	"github.com/sweeney/waste-sorter/internal/config"
	"github.com/sweeney/waste-sorter/internal/counter"
	"github.com/sweeney/waste-sorter/internal/logic"
	"github.com/sweeney/waste-sorter/internal/metrics"
	"github.com/sweeney/waste-sorter/internal/mqtt"
	"github.com/sweeney/waste-sorter/internal/source"
	"github.com/sweeney/waste-sorter/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "SortingShed")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "SortingShed",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

// --- runLoop tests ---

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

var testLabels = logic.MustLabels("Containers", "Paper", "Other")

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Only called from runLoop's goroutine.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type fakeRecorder struct {
	labels []logic.Category
}

func (r *fakeRecorder) Record(label logic.Category) {
	r.labels = append(r.labels, label)
}

type harness struct {
	deps    loopDeps
	gw      *actuator.FakeGateway
	rec     *fakeRecorder
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
	metrics *metrics.Metrics
}

func newHarness(step, heartbeat time.Duration) *harness {
	h := &harness{
		gw:      actuator.NewFakeGateway(),
		rec:     &fakeRecorder{},
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(t0, status.Config{Labels: []string{"Containers", "Paper", "Other"}}),
		metrics: metrics.New(),
	}
	h.deps = loopDeps{
		labels:     testLabels,
		decider:    logic.DeciderConfig{MinCount: 10, MaxFrameAge: time.Second},
		heartbeat:  heartbeat,
		actuator:   h.gw,
		usage:      h.rec,
		publisher:  h.pub,
		mqttStatus: h.pub,
		tracker:    h.tracker,
		metrics:    h.metrics,
		now:        fakeClock(t0, step),
	}
	return h
}

// run feeds batches through runLoop, then sends sig. It returns runLoop's
// error, which may arrive before every batch was consumed.
func (h *harness) run(t *testing.T, batches []source.Batch, sig os.Signal) error {
	t.Helper()
	in := make(chan source.Batch)
	sigCh := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(h.deps, in, sigCh)
	}()

	for _, b := range batches {
		select {
		case in <- b:
		case err := <-errCh:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("runLoop stopped consuming batches")
		}
	}
	sigCh <- sig

	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return after signal")
		return nil
	}
}

func batchOf(pairs ...int) source.Batch {
	var b source.Batch
	for i := 0; i+1 < len(pairs); i += 2 {
		for j := 0; j < pairs[i+1]; j++ {
			b.Detections = append(b.Detections, source.RawDetection{Label: pairs[i], Confidence: 0.9, XMax: 1, YMax: 1})
		}
	}
	return b
}

func empties(n int) []source.Batch {
	return make([]source.Batch, n)
}

const (
	containers = 0
	paper      = 1
)

func TestRunLoopIdleToActive(t *testing.T) {
	h := newHarness(100*time.Millisecond, 0)

	if err := h.run(t, []source.Batch{batchOf(paper, 10)}, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if got := h.gw.Sent(); len(got) != 1 || got[0] != 2 {
		t.Errorf("actuator modes: got %v, want [2]", got)
	}
	if len(h.rec.labels) != 1 || h.rec.labels[0] != "Paper" {
		t.Errorf("usage records: got %v, want [Paper]", h.rec.labels)
	}
	if len(h.pub.Transitions) != 1 {
		t.Fatalf("expected 1 published transition, got %d", len(h.pub.Transitions))
	}
	if tr := h.pub.Transitions[0]; tr.From != logic.Idle || tr.To != "Paper" {
		t.Errorf("transition: got %s -> %s", tr.From, tr.To)
	}

	snap := h.tracker.Snapshot()
	if snap.Active != "Paper" {
		t.Errorf("tracker Active: got %s", snap.Active)
	}
	if snap.Window["Paper"] != 10 {
		t.Errorf("tracker window: got %v", snap.Window)
	}
	if h.metrics.Frames.Load() != 1 || h.metrics.DetectionsIngested.Load() != 10 {
		t.Errorf("metrics: frames=%d ingested=%d", h.metrics.Frames.Load(), h.metrics.DetectionsIngested.Load())
	}
}

func TestRunLoopActiveToIdleAfterQuiet(t *testing.T) {
	h := newHarness(100*time.Millisecond, 0)

	// 10 Paper, then 1.2s of empty frames.
	batches := append([]source.Batch{batchOf(paper, 10)}, empties(12)...)
	if err := h.run(t, batches, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	got := h.gw.Sent()
	if len(got) != 2 || got[0] != 2 || got[1] != 0 {
		t.Errorf("actuator modes: got %v, want [2 0]", got)
	}
	if len(h.rec.labels) != 1 {
		t.Errorf("idle must not be recorded as usage, got %v", h.rec.labels)
	}
	if len(h.pub.Transitions) != 2 || h.pub.Transitions[1].To != logic.Idle {
		t.Errorf("transitions: got %+v", h.pub.Transitions)
	}
	if h.tracker.Snapshot().Active != logic.Idle {
		t.Error("tracker should be idle")
	}
}

func TestRunLoopTieHoldsState(t *testing.T) {
	h := newHarness(100*time.Millisecond, 0)

	if err := h.run(t, []source.Batch{batchOf(paper, 10, containers, 10)}, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if got := h.gw.Sent(); len(got) != 0 {
		t.Errorf("tie must not actuate, got %v", got)
	}
	if len(h.pub.Transitions) != 0 {
		t.Errorf("tie must not publish, got %d transitions", len(h.pub.Transitions))
	}
}

func TestRunLoopUnknownLabelIsFatal(t *testing.T) {
	h := newHarness(100*time.Millisecond, 0)

	batches := []source.Batch{
		batchOf(paper, 3),
		{Detections: []source.RawDetection{{Label: 7, Confidence: 0.9}}},
		batchOf(paper, 10),
	}
	err := h.run(t, batches, syscall.SIGTERM)
	if !errors.Is(err, logic.ErrUnknownLabel) {
		t.Fatalf("expected ErrUnknownLabel, got %v", err)
	}
	names := h.pub.SystemEventNames()
	if len(names) != 1 || names[0] != mqtt.EventShutdown {
		t.Fatalf("expected one SHUTDOWN, got %v", names)
	}
	if h.pub.SystemEvents[0].Reason != "ERROR" {
		t.Errorf("shutdown reason: got %q", h.pub.SystemEvents[0].Reason)
	}
	if len(h.gw.Sent()) != 0 {
		t.Errorf("no mode should be sent, got %v", h.gw.Sent())
	}
}

func TestRunLoopActuatorErrorDoesNotStop(t *testing.T) {
	h := newHarness(100*time.Millisecond, 0)
	h.gw.SetErr(errors.New("serial write failed"))

	if err := h.run(t, []source.Batch{batchOf(paper, 10)}, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if h.gw.Attempts != 1 {
		t.Errorf("expected 1 actuator attempt, got %d", h.gw.Attempts)
	}
	if len(h.pub.Transitions) != 1 || len(h.rec.labels) != 1 {
		t.Error("transition should still be published and recorded")
	}
}

func TestRunLoopPublishError(t *testing.T) {
	h := newHarness(100*time.Millisecond, 0)
	h.pub.PublishError = errors.New("broker unavailable")

	if err := h.run(t, []source.Batch{batchOf(paper, 10)}, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if h.metrics.PublishErrors.Load() != 1 {
		t.Errorf("PublishErrors: got %d, want 1", h.metrics.PublishErrors.Load())
	}
	if got := h.gw.Sent(); len(got) != 1 {
		t.Errorf("actuator should still be driven, got %v", got)
	}
	names := h.pub.SystemEventNames()
	if len(names) != 1 || names[0] != mqtt.EventShutdown {
		t.Errorf("expected SHUTDOWN despite publish errors, got %v", names)
	}
}

func TestRunLoopConfidenceMetrics(t *testing.T) {
	h := newHarness(100*time.Millisecond, 0)
	h.deps.decider.MinConfidence = 0.5

	b := batchOf(paper, 4)
	b.Detections = append(b.Detections, source.RawDetection{Label: paper, Confidence: 0.2})
	if err := h.run(t, []source.Batch{b}, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if h.metrics.DetectionsIngested.Load() != 4 || h.metrics.DetectionsFiltered.Load() != 1 {
		t.Errorf("ingested=%d filtered=%d", h.metrics.DetectionsIngested.Load(), h.metrics.DetectionsFiltered.Load())
	}
	if h.tracker.Snapshot().Window["Paper"] != 4 {
		t.Errorf("window: got %v", h.tracker.Snapshot().Window)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	// Clock calls: t0 (start), then one per batch at +5m, +10m, +15m, +20m.
	// The 15m heartbeat fires once, on the third batch.
	h := newHarness(5*time.Minute, 15*time.Minute)

	if err := h.run(t, empties(4), syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	var heartbeats int
	for _, se := range h.pub.SystemEvents {
		if se.Event == mqtt.EventHeartbeat {
			heartbeats++
			if !bytes.Contains(se.RawPayload, []byte(`"event":"HEARTBEAT"`)) {
				t.Errorf("heartbeat payload: %s", se.RawPayload)
			}
			if !se.Timestamp.Equal(t0.Add(15 * time.Minute)) {
				t.Errorf("heartbeat time: got %v", se.Timestamp)
			}
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT, got %d (%v)", heartbeats, h.pub.SystemEventNames())
	}
}

func TestRunLoopShutdownSignals(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		h := newHarness(100*time.Millisecond, 0)
		if err := h.run(t, nil, tt.sig); err != nil {
			t.Fatalf("runLoop returned error: %v", err)
		}
		if len(h.pub.SystemEvents) != 1 {
			t.Fatalf("%v: expected 1 system event, got %d", tt.sig, len(h.pub.SystemEvents))
		}
		ev := h.pub.SystemEvents[0]
		if ev.Event != mqtt.EventShutdown || ev.Reason != tt.want || !ev.Retained {
			t.Errorf("%v: got %+v", tt.sig, ev)
		}
		if !bytes.Contains(ev.RawPayload, []byte(`"reason":"`+tt.want+`"`)) {
			t.Errorf("%v: payload missing reason: %s", tt.sig, ev.RawPayload)
		}
	}
}

func TestRunLoopSourceClosed(t *testing.T) {
	h := newHarness(100*time.Millisecond, 0)
	in := make(chan source.Batch)
	close(in)

	if err := runLoop(h.deps, in, make(chan os.Signal)); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(h.pub.SystemEvents) != 1 || h.pub.SystemEvents[0].Reason != "SOURCE_CLOSED" {
		t.Errorf("expected SHUTDOWN SOURCE_CLOSED, got %+v", h.pub.SystemEvents)
	}
}

func TestRunLoopWithoutUsage(t *testing.T) {
	h := newHarness(100*time.Millisecond, 0)
	h.deps.usage = nil

	if err := h.run(t, []source.Batch{batchOf(paper, 10)}, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(h.gw.Sent()) != 1 {
		t.Errorf("actuator should be driven without a counter, got %v", h.gw.Sent())
	}
}

// --- pump ---

func TestPumpForwardsBatchesAndStopsOnClose(t *testing.T) {
	src := source.NewFakeSource(batchOf(paper, 1), batchOf(containers, 2))
	out := make(chan source.Batch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pump(ctx, src, out)

	first := <-out
	second := <-out
	if len(first.Detections) != 1 || len(second.Detections) != 2 {
		t.Fatalf("unexpected batches: %+v, %+v", first, second)
	}

	// Exhausted source yields empty batches until closed.
	if b := <-out; !b.Empty() {
		t.Errorf("expected empty batch, got %+v", b)
	}
	src.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("pump did not stop after source closed")
		}
	}
}

func TestPumpStopsOnCancel(t *testing.T) {
	src := source.NewFakeSource()
	out := make(chan source.Batch)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pump(ctx, src, out)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop on cancel")
	}
}

// --- CLI ---

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckConfigPrintsEffectiveConfig(t *testing.T) {
	path := writeConfig(t, `{"minClassificationCount": 5, "actuator": {"type": "none"}}`)
	out, err := execute("check-config", "--config", path)
	if err != nil {
		t.Fatalf("check-config: %v", err)
	}
	if !strings.Contains(out, `"minClassificationCount": 5`) {
		t.Errorf("output missing override: %s", out)
	}
	if !strings.Contains(out, `"name": "Paper"`) {
		t.Errorf("output missing default labels: %s", out)
	}
}

func TestCheckConfigRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `{"minClassificationCount": 0}`)
	if _, err := execute("check-config", "--config", path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSetModeRejectsOutOfRange(t *testing.T) {
	path := writeConfig(t, `{"actuator": {"type": "none"}}`)
	_, err := execute("set-mode", "9", "--config", path)
	if !errors.Is(err, actuator.ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestSetModeRejectsNonNumeric(t *testing.T) {
	path := writeConfig(t, `{"actuator": {"type": "none"}}`)
	if _, err := execute("set-mode", "paper", "--config", path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSetModeWithoutActuator(t *testing.T) {
	path := writeConfig(t, `{"actuator": {"type": "none"}}`)
	out, err := execute("set-mode", "2", "--hold", "1ms", "--config", path)
	if err != nil {
		t.Fatalf("set-mode: %v", err)
	}
	if !strings.Contains(out, "mode 2 applied") {
		t.Errorf("unexpected output: %s", out)
	}
}

// --- wiring ---

func TestNewCounterSelectsBackend(t *testing.T) {
	cfg := config.DefaultConfig()

	cfg.Counter.Type = config.CounterNone
	if c, closeFn := newCounter(cfg, testLabels); c != nil {
		t.Errorf("none: expected nil client, got %T", c)
	} else {
		closeFn()
	}

	cfg.Counter.Type = config.CounterHTTP
	cfg.Counter.URL = "http://127.0.0.1:1/api/stats"
	c, closeFn := newCounter(cfg, testLabels)
	if _, ok := c.(*counter.HTTPClient); !ok {
		t.Errorf("http: got %T", c)
	}
	closeFn()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()
	cfg.Counter.Type = config.CounterRedis
	cfg.Counter.RedisAddr = mr.Addr()
	c, closeFn = newCounter(cfg, testLabels)
	defer closeFn()
	if _, ok := c.(*counter.RedisClient); !ok {
		t.Fatalf("redis: got %T", c)
	}
	got, err := c.Post(context.Background(), logic.Counts{"Paper": 2})
	if err != nil {
		t.Fatalf("redis post: %v", err)
	}
	if got["Paper"] != 2 {
		t.Errorf("redis totals: got %v", got)
	}
}

func TestOpenGatewayNone(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Actuator.Type = config.ActuatorNone
	gw, err := openGateway(cfg, 3)
	if err != nil {
		t.Fatalf("openGateway: %v", err)
	}
	if err := gw.SetMode(2); err != nil {
		t.Errorf("SetMode: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
