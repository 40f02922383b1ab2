// Command waste-sorter turns detection batches from the vision pipeline into
// stable waste categories, drives the sorting actuator and reports usage.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/sweeney/waste-sorter/internal/actuator"
	"github.com/sweeney/waste-sorter/internal/config"
	"github.com/sweeney/waste-sorter/internal/counter"
	"github.com/sweeney/waste-sorter/internal/logic"
	"github.com/sweeney/waste-sorter/internal/metrics"
	"github.com/sweeney/waste-sorter/internal/mqtt"
	"github.com/sweeney/waste-sorter/internal/source"
	"github.com/sweeney/waste-sorter/internal/status"
	"github.com/sweeney/waste-sorter/internal/usage"
	"github.com/sweeney/waste-sorter/internal/web"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "waste-sorter",
		Short:         "Waste sorting edge controller",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath, "config file path")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the sorter daemon (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
	})

	var hold time.Duration
	setMode := &cobra.Command{
		Use:   "set-mode <code>",
		Short: "Drive the actuator to one mode, hold it, then release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("mode code %q: %w", args[0], err)
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return setModeOnce(cmd, cfg, code, hold)
		},
	}
	setMode.Flags().DurationVar(&hold, "hold", 0, "how long to hold the mode (0 waits for Ctrl-C)")
	root.AddCommand(setMode)

	root.AddCommand(&cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", data)
			return nil
		},
	})

	return root
}

func setModeOnce(cmd *cobra.Command, cfg *config.Config, code int, hold time.Duration) error {
	modes := len(cfg.Labels)
	if err := actuator.CheckMode(code, modes); err != nil {
		return err
	}
	gw, err := openGateway(cfg, modes)
	if err != nil {
		return err
	}
	defer gw.Close()

	if err := gw.SetMode(code); err != nil {
		return fmt.Errorf("set mode %d: %w", code, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "mode %d applied\n", code)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var timeout <-chan time.Time
	if hold > 0 {
		timeout = time.After(hold)
	}
	select {
	case <-sigCh:
	case <-timeout:
	}
	return nil
}

// nopGateway stands in when no actuator is attached.
type nopGateway struct{}

func (nopGateway) SetMode(code int) error {
	log.Printf("actuator: none configured, mode %d not sent", code)
	return nil
}

func (nopGateway) Close() error { return nil }

func openGateway(cfg *config.Config, modes int) (actuator.Gateway, error) {
	switch cfg.Actuator.Type {
	case config.ActuatorGPIO:
		gw, err := actuator.NewGPIOGateway(cfg.Actuator.Chip, cfg.Actuator.Pins, modes)
		if err != nil {
			return nil, fmt.Errorf("init gpio actuator: %w", err)
		}
		return gw, nil
	case config.ActuatorSerial:
		gw, err := actuator.OpenSerialGateway(cfg.Actuator.Port, cfg.Actuator.Baud, modes)
		if err != nil {
			return nil, fmt.Errorf("init serial actuator: %w", err)
		}
		return gw, nil
	default:
		return nopGateway{}, nil
	}
}

// newCounter returns nil when usage reporting is disabled. The returned
// close function is never nil.
func newCounter(cfg *config.Config, labels logic.Labels) (counter.Client, func()) {
	keys := counter.NewKeyMap(labels, cfg.CounterKeys())
	switch cfg.Counter.Type {
	case config.CounterHTTP:
		return counter.NewHTTPClient(cfg.Counter.URL, keys, cfg.CounterTimeout()), func() {}
	case config.CounterRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Counter.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Flushes retry, so an unreachable server is not fatal at startup.
			log.Printf("counter: redis %s not reachable yet: %v", cfg.Counter.RedisAddr, err)
		}
		return counter.NewRedisClient(rdb, cfg.Counter.RedisKey, keys), func() { rdb.Close() }
	default:
		return nil, func() {}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	labels, err := cfg.LabelSet()
	if err != nil {
		return fmt.Errorf("labels: %w", err)
	}
	startTime := time.Now()
	m := metrics.New()

	tracker := status.NewTracker(startTime, status.Config{
		Labels:          cfg.LabelNames(),
		MinCount:        cfg.MinClassificationCount,
		MaxFrameAgeMs:   config.Seconds(cfg.MaxFrameAge).Milliseconds(),
		MinConfidence:   cfg.MinConfidence,
		FlushIntervalMs: cfg.FlushIntervalDuration().Milliseconds(),
		HeartbeatMs:     cfg.HeartbeatDuration().Milliseconds(),
		Broker:          cfg.MQTT.Broker,
		HTTPPort:        cfg.HTTP,
		Actuator:        cfg.Actuator.Type,
		Counter:         cfg.Counter.Type,
	})
	tracker.UpdateUsage(status.Usage{Pending: labels.Zero()})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Actuator
	gw, err := openGateway(cfg, labels.Len())
	if err != nil {
		return err
	}
	dispatcher := actuator.NewDispatcher(gw)
	dispatcher.OnResult = func(r actuator.Result) {
		st := dispatcher.Stats()
		tracker.UpdateActuator(status.Actuator{
			Mode:      st.LastCode,
			Applied:   st.Applied,
			Errors:    st.Errors,
			Dropped:   st.Dropped,
			LastError: errString(st.LastErr),
		})
		m.ActuatorApplied.Store(uint64(st.Applied))
		m.ActuatorErrors.Store(uint64(st.Errors))
		m.ActuatorDropped.Store(uint64(st.Dropped))
		m.ActuatorMode.Store(int64(st.LastCode))
	}
	dispatcher.Start()
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.Printf("actuator: close: %v", err)
		}
	}()

	// Usage reporting
	client, closeClient := newCounter(cfg, labels)
	defer closeClient()

	var rec recorder
	if client != nil {
		agg := usage.NewAggregator(labels, cfg.FlushIntervalDuration(), startTime)
		worker := usage.NewWorker(agg, client, time.Now)
		worker.OnFlush = func(r usage.Report) {
			tracker.UpdateUsage(status.Usage{
				Pending:   r.Pending,
				Remote:    r.Remote,
				LastFlush: r.LastFlush,
				Failures:  r.Failures,
				LastError: errString(r.Err),
			})
			m.SetPending(labels.All(), r.Pending)
			if r.Err != nil {
				m.FlushFailures.Add(1)
			} else if r.Posted {
				m.FlushSuccesses.Add(1)
			}
		}
		if err := worker.Start(context.Background()); err != nil {
			return fmt.Errorf("start usage worker: %w", err)
		}
		// Deferred after the dispatcher, so it runs first.
		defer worker.Stop()
		rec = worker
	} else {
		log.Printf("usage: no counter configured, usage reporting disabled")
	}

	// MQTT
	publisher := mqtt.NewRealPublisher(mqtt.Options{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
	})
	defer publisher.Close()

	src, err := source.NewMQTTSource(source.MQTTOptions{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Topic:    cfg.MQTT.DetectionsTopic,
	})
	if err != nil {
		return fmt.Errorf("init detection source: %w", err)
	}
	defer src.Close()

	tracker.SetMQTTConnected(publisher.IsConnected())
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// HTTP status
	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker, m.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP)
	}

	log.Printf("started: labels=%v K=%d maxFrameAge=%vs broker=%s actuator=%s counter=%s",
		cfg.LabelNames(), cfg.MinClassificationCount, cfg.MaxFrameAge, cfg.MQTT.Broker, cfg.Actuator.Type, cfg.Counter.Type)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	batches := make(chan source.Batch)
	go pump(ctx, src, batches)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loopDeps{
		labels:     labels,
		decider:    cfg.Decider(),
		heartbeat:  cfg.HeartbeatDuration(),
		actuator:   dispatcher,
		usage:      rec,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		metrics:    m,
		now:        time.Now,
	}, batches, sigCh)
}

// pump pulls batches from src until ctx is cancelled or the source closes.
// Empty batches are forwarded too; they drive window eviction.
func pump(ctx context.Context, src source.Source, out chan<- source.Batch) {
	defer close(out)
	for {
		b, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, source.ErrClosed) {
				return
			}
			log.Printf("source: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		select {
		case out <- b:
		case <-ctx.Done():
			return
		}
	}
}

type modeSetter interface {
	SetMode(code int) error
}

type recorder interface {
	Record(label logic.Category)
}

type loopDeps struct {
	labels     logic.Labels
	decider    logic.DeciderConfig
	heartbeat  time.Duration
	actuator   modeSetter
	usage      recorder // nil disables usage recording
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	metrics    *metrics.Metrics
	now        func() time.Time
}

func runLoop(d loopDeps, batches <-chan source.Batch, sig <-chan os.Signal) error {
	decider := logic.NewDecider(d.labels, d.decider, d.now())

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			d.publishShutdown(signalName(s))
			return nil

		case b, ok := <-batches:
			if !ok {
				log.Printf("detection source closed, shutting down")
				d.publishShutdown("SOURCE_CLOSED")
				return nil
			}
			t := d.now()

			frame, err := source.ToFrame(b, d.labels, t)
			if err != nil {
				d.publishShutdown("ERROR")
				return fmt.Errorf("detection source contract: %w", err)
			}
			d.countDetections(frame)

			if tr := decider.Process(frame); tr != nil {
				d.apply(*tr)
			}

			d.updateStatus(decider)

			if hb := decider.CheckHeartbeat(t, d.heartbeat); hb != nil {
				log.Printf("heartbeat: uptime=%v active=%s transitions=%v", hb.Uptime, hb.Active, hb.Transitions)
				if net := readNetworkInfo(); net != nil {
					d.tracker.SetNetwork(net)
				}
				snap := d.tracker.Snapshot()
				event := mqtt.SystemEvent{
					Timestamp:  hb.Timestamp,
					Event:      mqtt.EventHeartbeat,
					RawPayload: status.FormatStatusEvent(snap, mqtt.EventHeartbeat, ""),
				}
				if err := d.publisher.PublishSystem(event); err != nil {
					log.Printf("heartbeat publish error: %v", err)
					d.metrics.PublishErrors.Add(1)
				}
			}
		}
	}
}

// apply carries out a confirmed transition. Failures are logged and never
// stop the loop; the decider state stays authoritative.
func (d *loopDeps) apply(t logic.Transition) {
	log.Printf("transition: %s -> %s (mode %d)", t.From, t.To, t.Code)

	if err := d.actuator.SetMode(t.Code); err != nil {
		log.Printf("actuator: set mode %d: %v", t.Code, err)
	}
	if t.To != logic.Idle && d.usage != nil {
		d.usage.Record(t.To)
	}
	if err := d.publisher.Publish(t); err != nil {
		log.Printf("publish error: %v", err)
		d.metrics.PublishErrors.Add(1)
	}
	d.metrics.ObserveTransition(t)
}

func (d *loopDeps) countDetections(f logic.Frame) {
	d.metrics.Frames.Add(1)
	for _, det := range f.Detections {
		if d.decider.MinConfidence > 0 && det.Confidence < d.decider.MinConfidence {
			d.metrics.DetectionsFiltered.Add(1)
		} else {
			d.metrics.DetectionsIngested.Add(1)
		}
	}
}

func (d *loopDeps) updateStatus(decider *logic.Decider) {
	window := decider.WindowCounts()
	d.tracker.UpdateDecision(decider.Active(), decider.LastTransition(), window, decider.TransitionCounts())
	d.metrics.SetWindow(d.labels.All(), window)
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func (d *loopDeps) publishShutdown(reason string) {
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	snap := d.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      mqtt.EventShutdown,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventShutdown, reason),
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event")
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
