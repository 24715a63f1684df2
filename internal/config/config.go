package config

import (
	"os"
	"strings"

	"github.com/scanium/scancore/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultFPS                = 30
	defaultObjectIntervalMs   = 400
	defaultBarcodeIntervalMs  = 100
	defaultDocumentIntervalMs = 500
	defaultDedupWindowMs      = 3000
	defaultInitialDelayMs     = 600
	defaultRetryDelayMs       = 800
	defaultMaxAttempts        = 2
	defaultSimLatencyMs       = 60
	defaultSimJitterMs        = 40
	defaultMetricsDB          = "/var/lib/scancore/metrics.db"
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	Monitor  bool   `mapstructure:"monitor"`

	// Frame source
	FPS      int    `mapstructure:"fps"`
	ScanMode string `mapstructure:"scan_mode"`

	// Throttling
	ObjectIntervalMs   int  `mapstructure:"object_interval_ms"`
	BarcodeIntervalMs  int  `mapstructure:"barcode_interval_ms"`
	DocumentIntervalMs int  `mapstructure:"document_interval_ms"`
	DedupWindowMs      int  `mapstructure:"dedup_window_ms"`
	AdaptiveThrottling bool `mapstructure:"adaptive_throttling"`
	BarcodeDetection   bool `mapstructure:"barcode_detection"`
	DocumentDetection  bool `mapstructure:"document_detection"`

	// Watchdog
	WatchdogInitialDelayMs int `mapstructure:"watchdog_initial_delay_ms"`
	WatchdogRetryDelayMs   int `mapstructure:"watchdog_retry_delay_ms"`
	WatchdogMaxAttempts    int `mapstructure:"watchdog_max_attempts"`

	// Simulated detector latency for the soak harness
	SimLatencyMs int `mapstructure:"sim_latency_ms"`
	SimJitterMs  int `mapstructure:"sim_jitter_ms"`

	// Observability
	Metrics         bool   `mapstructure:"metrics"`
	MetricsDB       string `mapstructure:"metrics_db"`
	TelemetryListen string `mapstructure:"telemetry_listen"`
}

// Load reads configuration from flags, an optional TOML file (explicit path
// via SCANCORE_CONFIG, otherwise searched in the usual locations) and
// SCANCORE_* environment variables, in ascending precedence of defaults <
// file < env < flags.
func Load() (*Config, error) {
	errFactory := errors.New()

	fs := pflag.NewFlagSet("scancore", pflag.ContinueOnError)
	fs.String("log-level", "", "Log level (debug, info, warning, error)")
	fs.Bool("monitor", false, "Only log state, do not run detection")
	fs.Int("fps", defaultFPS, "Synthetic frame rate")
	fs.String("scan-mode", "object", "Scan mode (object, barcode, document)")
	fs.Bool("metrics", false, "Enable metrics collection")
	fs.String("metrics-db", defaultMetricsDB, "Path to the metrics database")
	fs.String("telemetry-listen", "", "Prometheus listen address (empty = disabled)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("monitor", false)
	v.SetDefault("fps", defaultFPS)
	v.SetDefault("scan_mode", "object")
	v.SetDefault("object_interval_ms", defaultObjectIntervalMs)
	v.SetDefault("barcode_interval_ms", defaultBarcodeIntervalMs)
	v.SetDefault("document_interval_ms", defaultDocumentIntervalMs)
	v.SetDefault("dedup_window_ms", defaultDedupWindowMs)
	v.SetDefault("adaptive_throttling", true)
	v.SetDefault("barcode_detection", true)
	v.SetDefault("document_detection", true)
	v.SetDefault("watchdog_initial_delay_ms", defaultInitialDelayMs)
	v.SetDefault("watchdog_retry_delay_ms", defaultRetryDelayMs)
	v.SetDefault("watchdog_max_attempts", defaultMaxAttempts)
	v.SetDefault("sim_latency_ms", defaultSimLatencyMs)
	v.SetDefault("sim_jitter_ms", defaultSimJitterMs)
	v.SetDefault("metrics", false)
	v.SetDefault("metrics_db", defaultMetricsDB)
	v.SetDefault("telemetry_listen", "")

	if path := os.Getenv("SCANCORE_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scancore")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/scancore")
		v.AddConfigPath("$HOME/.config/scancore")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errFactory.WithMessage(errors.ErrReadConfig, "Failed to read config file").WithData(err.Error())
		}
	}

	v.SetEnvPrefix("SCANCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"log_level":        "log-level",
		"monitor":          "monitor",
		"fps":              "fps",
		"scan_mode":        "scan-mode",
		"metrics":          "metrics",
		"metrics_db":       "metrics-db",
		"telemetry_listen": "telemetry-listen",
	}
	for key, flagName := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if config.LogLevel == "" {
		config.LogLevel = DefaultLogLevel
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.FPS <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "fps must be positive")
	}

	for name, interval := range map[string]int{
		"object_interval_ms":   c.ObjectIntervalMs,
		"barcode_interval_ms":  c.BarcodeIntervalMs,
		"document_interval_ms": c.DocumentIntervalMs,
		"dedup_window_ms":      c.DedupWindowMs,
	} {
		if interval < 0 {
			return errFactory.WithData(errors.ErrInvalidInterval, name)
		}
	}

	switch c.ScanMode {
	case "object", "barcode", "document":
	default:
		return errFactory.WithData(errors.ErrInvalidConfig, "unknown scan_mode: "+c.ScanMode)
	}

	if c.WatchdogInitialDelayMs <= 0 || c.WatchdogRetryDelayMs <= 0 || c.WatchdogMaxAttempts <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "watchdog settings must be positive")
	}

	return nil
}

// IsDebug returns whether debug logging is requested
func (c *Config) IsDebug() bool {
	return c.LogLevel == string(LogLevelDebug)
}

// IsVerbose returns whether info-level logging is requested
func (c *Config) IsVerbose() bool {
	return c.LogLevel == string(LogLevelDebug) || c.LogLevel == string(LogLevelInfo)
}
