package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// KnownTranscribers lists the transcriber names registered by the server.
// Used by [Validate] to warn about unrecognised names.
var KnownTranscribers = []string{"echo", "simulated"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, ":8080")
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.ShutdownTimeout, 10*time.Second)
	setDefault(&cfg.Assess.FuzzyThreshold, 0.75)
	setDefault(&cfg.Timer.TickInterval, time.Second)
	setDefault(&cfg.Timer.IOTimeout, 2*time.Second)
	setDefault(&cfg.Storage.Backend, StorageMemory)
	setDefault(&cfg.Analytics.HTTPTimeout, 5*time.Second)
	setDefault(&cfg.Analytics.FailureThreshold, 5)
	setDefault(&cfg.Analytics.ResetTimeout, 30*time.Second)
	setDefault(&cfg.Analytics.Buffer, 256)
	setDefault(&cfg.Capture.Transcriber, "echo")
	setDefault(&cfg.Telemetry.ServiceName, "readalong")
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}

	// Assess
	if t := cfg.Assess.FuzzyThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("assess.fuzzy_threshold %.2f is out of range (0, 1]", t))
	}

	// Timer
	if cfg.Timer.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("timer.tick_interval %s must not be negative", cfg.Timer.TickInterval))
	}
	if cfg.Timer.IOTimeout < 0 {
		errs = append(errs, fmt.Errorf("timer.io_timeout %s must not be negative", cfg.Timer.IOTimeout))
	}

	// Storage
	switch cfg.Storage.Backend {
	case "", StorageMemory:
	case StorageFile:
		if cfg.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required when backend is file"))
		}
	case StoragePostgres:
		if cfg.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required when backend is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, file, postgres", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == StorageMemory {
		slog.Debug("storage.backend is memory; timer state will not survive a restart")
	}

	// Analytics
	if raw := cfg.Analytics.HTTPURL; raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("analytics.http_url %q must be an absolute http(s) URL", raw))
		}
	}
	if cfg.Analytics.Buffer < 0 {
		errs = append(errs, fmt.Errorf("analytics.buffer %d must not be negative", cfg.Analytics.Buffer))
	}
	if cfg.Analytics.FailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("analytics.failure_threshold %d must not be negative", cfg.Analytics.FailureThreshold))
	}
	if !cfg.Analytics.Log && cfg.Analytics.FilePath == "" && cfg.Analytics.HTTPURL == "" {
		slog.Warn("no analytics sink configured; task events are only counted in metrics")
	}

	// Capture
	for name, rate := range map[string]float64{
		"drop_rate":    cfg.Capture.DropRate,
		"insert_rate":  cfg.Capture.InsertRate,
		"perturb_rate": cfg.Capture.PerturbRate,
	} {
		if rate < 0 || rate > 1 {
			errs = append(errs, fmt.Errorf("capture.%s %.2f is out of range [0, 1]", name, rate))
		}
	}
	validateTranscriberName(cfg.Capture.Transcriber)

	return errors.Join(errs...)
}

// validateTranscriberName logs a warning if name is non-empty and not found in
// [KnownTranscribers].
func validateTranscriberName(name string) {
	if name == "" || slices.Contains(KnownTranscribers, name) {
		return
	}
	slog.Warn("unknown transcriber name, may be a typo or a custom registration",
		"name", name,
		"known", KnownTranscribers,
	)
}
