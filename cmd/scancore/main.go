package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scanium/scancore/internal/config"
	"github.com/scanium/scancore/internal/detect"
	"github.com/scanium/scancore/internal/logger"
	"github.com/scanium/scancore/internal/metrics"
	"github.com/scanium/scancore/internal/pid"
	"github.com/scanium/scancore/internal/session"
	"github.com/scanium/scancore/internal/telemetry"
)

const (
	statsInterval    = 2 * time.Second
	barcodeValuePool = 12
)

var (
	cfg      *config.Config
	clock    detect.Clock
	router   *detect.Router
	watchdog *session.Watchdog
	runID    string
)

// loopbackBinder stands in for the camera-binding layer in the soak
// harness: the synthetic frame source is always bound and attached.
type loopbackBinder struct{}

func (loopbackBinder) BindState() session.BindState {
	return session.BindState{CameraBound: true, AnalysisAttached: true}
}

func (loopbackBinder) RebindAnalyzer() error {
	logger.Debug().Msg("Re-applying synthetic analyzer")
	return nil
}

func init() {
	_ = godotenv.Load()

	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.IsDebug(), cfg.IsVerbose(), logger.IsService())
	logger.Debug().Msg("Config loaded")

	runID = uuid.NewString()
	clock = detect.NewMonotonicClock()

	routerCfg := detect.DefaultRouterConfig()
	routerCfg.ObjectIntervalMs = int64(cfg.ObjectIntervalMs)
	routerCfg.BarcodeIntervalMs = int64(cfg.BarcodeIntervalMs)
	routerCfg.DocumentIntervalMs = int64(cfg.DocumentIntervalMs)
	routerCfg.DedupWindowMs = uint64(cfg.DedupWindowMs)

	router, err = detect.NewRouter(routerCfg, nil, clock)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize detection router")
	}
	router.SetBarcodeDetectionEnabled(cfg.BarcodeDetection)
	router.SetDocumentDetectionEnabled(cfg.DocumentDetection)
	router.SetAdaptiveThrottlingEnabled(cfg.AdaptiveThrottling)

	watchdogCfg := session.WatchdogConfig{
		InitialDelay: time.Duration(cfg.WatchdogInitialDelayMs) * time.Millisecond,
		RetryDelay:   time.Duration(cfg.WatchdogRetryDelayMs) * time.Millisecond,
		MaxAttempts:  uint32(cfg.WatchdogMaxAttempts),
	}
	watchdog, err = session.NewWatchdog(watchdogCfg, loopbackBinder{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize watchdog")
	}
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write pid file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove pid file")
		}
	}()

	collector, err := metrics.NewService(metrics.Config{
		DBPath:       cfg.MetricsDB,
		BatchSize:    30,
		BatchTimeout: 10,
		Enabled:      cfg.Metrics,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize metrics")
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close metrics")
		}
	}()

	if cfg.TelemetryListen != "" {
		go serveTelemetry(cfg.TelemetryListen)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	router.StartSession()
	sid := watchdog.StartSession(ctx)
	logger.Info().
		Str("run_id", runID).
		Uint64("session_id", sid).
		Int("fps", cfg.FPS).
		Str("scan_mode", cfg.ScanMode).
		Msg("Soak session started")

	if err := loop(ctx, collector); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
	}

	watchdog.StopSession()
	router.StopSession()
	logger.Info().Msg("Exiting...")
}

func loop(ctx context.Context, collector metrics.Collector) error {
	frameTicker := time.NewTicker(time.Second / time.Duration(cfg.FPS))
	defer frameTicker.Stop()

	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	mode := scanMode()
	publisher := telemetry.NewPublisher()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-frameTicker.C:
			watchdog.NoteFrame()
			if !cfg.Monitor {
				step(mode)
			}
		case <-statsTicker.C:
			stats := router.GetStats()
			adaptive := router.GetAdaptiveStats()
			publisher.Publish(stats, adaptive)
			logState(stats, adaptive)

			if err := collector.Record(ctx, snapshot(stats, adaptive)); err != nil {
				logger.Error().Err(err).Msg("failed to record snapshot")
			}
		}
	}
}

// step routes one synthetic frame and, when admitted, feeds simulated
// detector results and latency back into the router.
func step(mode detect.ScanMode) {
	ts := clock.NowMillis()
	ok, detector := router.RouteDetection(mode, ts)
	if !ok {
		return
	}

	latency := simulatedLatency()
	router.RecordFrameProcessingTime(latency)
	telemetry.ObserveLatency(float64(latency))

	switch detector {
	case detect.DetectorObject:
		items, boxes := syntheticObjects()
		router.ProcessObjectResults(items, boxes)
	case detect.DetectorBarcode:
		router.ProcessBarcodeResults(syntheticBarcodes())
	case detect.DetectorDocument:
		router.ProcessDocumentResults(syntheticDocuments())
	}
}

func scanMode() detect.ScanMode {
	switch cfg.ScanMode {
	case "barcode":
		return detect.ScanModeBarcode
	case "document":
		return detect.ScanModeDocumentText
	default:
		return detect.ScanModeObjectDetection
	}
}

func simulatedLatency() uint64 {
	latency := cfg.SimLatencyMs
	if cfg.SimJitterMs > 0 {
		latency += rand.Intn(2*cfg.SimJitterMs) - cfg.SimJitterMs
	}
	if latency < 1 {
		latency = 1
	}

	return uint64(latency)
}

func syntheticObjects() ([]detect.Item, []detect.Box) {
	n := 1 + rand.Intn(3)
	items := make([]detect.Item, 0, n)
	boxes := make([]detect.Box, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, detect.Item{
			ID:    fmt.Sprintf("obj-%d", rand.Intn(1000)),
			Label: "object",
			Score: 0.5 + rand.Float32()/2,
		})
		boxes = append(boxes, detect.Box{
			X: rand.Float32(), Y: rand.Float32(),
			W: rand.Float32() / 2, H: rand.Float32() / 2,
			Score: 0.5 + rand.Float32()/2,
			Label: "object",
		})
	}

	return items, boxes
}

// syntheticBarcodes draws values from a small pool so the dedup window sees
// realistic repeats.
func syntheticBarcodes() []detect.Item {
	n := 1 + rand.Intn(3)
	items := make([]detect.Item, 0, n)
	for i := 0; i < n; i++ {
		value := fmt.Sprintf("4006381%06d", rand.Intn(barcodeValuePool))
		items = append(items, detect.Item{
			ID:      fmt.Sprintf("bc-%d", rand.Intn(1000)),
			Label:   "barcode",
			Score:   1,
			Barcode: &detect.BarcodeValue{Value: value, Format: 32}, // EAN-13
		})
	}

	return items
}

func syntheticDocuments() []detect.Item {
	return []detect.Item{{
		ID:    fmt.Sprintf("doc-%d", rand.Intn(1000)),
		Label: "document",
		Score: 0.5 + rand.Float32()/2,
	}}
}

func snapshot(stats detect.RouterStats, adaptive detect.AdaptiveStats) *metrics.Snapshot {
	diag := watchdog.Diagnostics()

	return &metrics.Snapshot{
		Timestamp: time.Now(),
		RunID:     runID,
		Frames: metrics.FrameMetrics{
			Total:     stats.TotalFrames,
			PerSecond: stats.FramesPerSecond,
		},
		Invocations: metrics.InvocationMetrics{
			Object:   stats.Invocations[detect.DetectorObject],
			Barcode:  stats.Invocations[detect.DetectorBarcode],
			Document: stats.Invocations[detect.DetectorDocument],
		},
		Throttle: metrics.ThrottleMetrics{
			ThrottledTotal: stats.ThrottledCount,
			Multiplier:     adaptive.Multiplier,
			RollingAvgMs:   adaptive.RollingAvgMs,
			Throttling:     adaptive.Throttling,
		},
		Dedup: metrics.DedupMetrics{
			DedupedTotal: stats.DedupedCount,
		},
		Watchdog: metrics.WatchdogMetrics{
			StallReason:      diag.StallReason.String(),
			RecoveryAttempts: diag.RecoveryAttempts,
		},
	}
}

func logState(stats detect.RouterStats, adaptive detect.AdaptiveStats) {
	if cfg.IsDebug() {
		diag := watchdog.Diagnostics()
		logger.Debug().
			Uint64("total_frames", stats.TotalFrames).
			Float64("fps", stats.FramesPerSecond).
			Uint64("object_invocations", stats.Invocations[detect.DetectorObject]).
			Uint64("barcode_invocations", stats.Invocations[detect.DetectorBarcode]).
			Uint64("document_invocations", stats.Invocations[detect.DetectorDocument]).
			Uint64("throttled", stats.ThrottledCount).
			Uint64("deduped", stats.DedupedCount).
			Float64("multiplier", adaptive.Multiplier).
			Float64("rolling_avg_ms", adaptive.RollingAvgMs).
			Bool("throttling", adaptive.Throttling).
			Str("stall_reason", diag.StallReason.String()).
			Uint32("recovery_attempts", diag.RecoveryAttempts).
			Msg("")
	} else if cfg.IsVerbose() || cfg.Monitor {
		logger.Info().
			Uint64("total_frames", stats.TotalFrames).
			Float64("fps", stats.FramesPerSecond).
			Uint64("throttled", stats.ThrottledCount).
			Float64("multiplier", adaptive.Multiplier).
			Bool("throttling", adaptive.Throttling).
			Msg("")
	}
}

func serveTelemetry(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info().Str("addr", addr).Msg("Serving Prometheus telemetry")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("telemetry server stopped")
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
