package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/twinforge/twinforge/pkg/cloud"
	"github.com/twinforge/twinforge/pkg/orchestrator"
	"github.com/twinforge/twinforge/pkg/registry"
	"github.com/twinforge/twinforge/pkg/stores"
	"github.com/twinforge/twinforge/pkg/telemetry"
)

// SettingsFileName is the optional CLI settings file, looked up next to
// the project directory when --settings is not given.
const SettingsFileName = "twinforge.yaml"

// Settings configures the CLI itself, as opposed to the project being
// deployed.
type Settings struct {
	// LogLevel is the zerolog level for telemetry output.
	LogLevel string `yaml:"log_level"`

	// LogFormat is "console" or "json".
	LogFormat string `yaml:"log_format"`

	// StateDB is the SQLite deployment-history database path.
	StateDB string `yaml:"state_db"`

	// MetricsEnabled serves Prometheus metrics during long-running
	// commands.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// MetricsListen is the metrics endpoint listen address.
	MetricsListen string `yaml:"metrics_listen"`

	// TracingEnabled turns span export on.
	TracingEnabled bool `yaml:"tracing_enabled"`

	// TracingExporter is "stdout" or "otlp".
	TracingExporter string `yaml:"tracing_exporter"`

	// TracingEndpoint is the OTLP collector address.
	TracingEndpoint string `yaml:"tracing_endpoint"`

	// Endpoints maps provider names to their API gateway endpoints.
	Endpoints map[string]string `yaml:"endpoints"`

	// PolicyPaths are extra policy files or directories loaded on top of
	// the built-in policy set.
	PolicyPaths []string `yaml:"policy_paths"`
}

// defaultSettings returns the settings used when no file is present.
func defaultSettings() *Settings {
	stateDB := filepath.Join(".twinforge", "state.db")
	if home, err := os.UserHomeDir(); err == nil {
		stateDB = filepath.Join(home, ".twinforge", "state.db")
	}
	return &Settings{
		LogLevel:        "info",
		LogFormat:       "console",
		StateDB:         stateDB,
		MetricsListen:   ":9090",
		TracingExporter: "stdout",
	}
}

// loadSettings reads the CLI settings, merging the file over defaults.
// A missing file is not an error unless it was named explicitly.
func loadSettings(projectPath string) (*Settings, error) {
	s := defaultSettings()

	path := settingsPath
	explicit := path != ""
	if !explicit {
		path = filepath.Join(projectPath, SettingsFileName)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	return s, nil
}

// telemetryConfig translates CLI settings into a telemetry configuration.
func telemetryConfig(s *Settings) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = s.LogLevel
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if s.LogFormat != "" {
		cfg.Logging.Format = s.LogFormat
	}
	cfg.Metrics.Enabled = s.MetricsEnabled
	if s.MetricsListen != "" {
		cfg.Metrics.ListenAddress = s.MetricsListen
	}
	cfg.Tracing.Enabled = s.TracingEnabled
	if s.TracingExporter != "" {
		cfg.Tracing.Exporter = s.TracingExporter
	}
	cfg.Tracing.Endpoint = s.TracingEndpoint
	return cfg
}

// openStore opens and migrates the deployment-history database.
func openStore(ctx context.Context, s *Settings) (stores.Store, error) {
	if dir := filepath.Dir(s.StateDB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: s.StateDB})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// buildAdapters wires one capability adapter per configured provider
// endpoint.
func buildAdapters(s *Settings, tel *telemetry.Telemetry) (map[registry.Provider]cloud.Adapter, error) {
	transports := make(map[registry.Provider]cloud.Transport, len(s.Endpoints))
	for name, endpoint := range s.Endpoints {
		p := registry.Provider(name)
		if !p.Valid() {
			return nil, fmt.Errorf("unknown provider %q in endpoints", name)
		}
		transports[p] = cloud.NewHTTPTransport(endpoint, nil)
	}
	return cloud.Adapters(transports, tel.Logger.Zlog()), nil
}

// newOrchestrator assembles the full deployment stack for one command
// invocation. The returned cleanup closes the store and flushes
// telemetry.
func newOrchestrator(ctx context.Context, projectPath string) (*orchestrator.Orchestrator, stores.Store, func(), error) {
	s, err := loadSettings(projectPath)
	if err != nil {
		return nil, nil, nil, err
	}

	tel, err := telemetry.New(telemetryConfig(s))
	if err != nil {
		return nil, nil, nil, err
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, nil, nil, err
	}

	store, err := openStore(ctx, s)
	if err != nil {
		return nil, nil, nil, err
	}

	adapters, err := buildAdapters(s, tel)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}

	o, err := orchestrator.New(registry.Default(), adapters, store, tel)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}
	if len(s.PolicyPaths) > 0 {
		if err := o.Policies().LoadPolicies(ctx, s.PolicyPaths); err != nil {
			_ = store.Close()
			return nil, nil, nil, err
		}
	}

	cleanup := func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close state store")
		}
		if err := tel.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to shut telemetry down")
		}
	}
	return o, store, cleanup, nil
}
