package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics exposes Prometheus metrics for the deployment pipeline. A
// disabled config yields a no-op instance so call sites never branch.
type Metrics struct {
	config MetricsConfig

	deploymentsStarted   *prometheus.CounterVec
	deploymentsCompleted *prometheus.CounterVec
	deploymentDuration   *prometheus.HistogramVec

	layerDeployDuration *prometheus.HistogramVec
	preflightBlocks     *prometheus.CounterVec

	archiveBytes *prometheus.HistogramVec

	providerCalls  *prometheus.CounterVec
	providerErrors *prometheus.CounterVec

	sweepDeletions *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates the metrics collector.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		deploymentsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_started_total",
				Help:      "Total number of deployment runs started",
			},
			[]string{"deployment"},
		),
		deploymentsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_completed_total",
				Help:      "Total number of deployment runs completed",
			},
			[]string{"status"},
		),
		deploymentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deployment_duration_seconds",
				Help:      "Duration of deployment runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		layerDeployDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "layer_deploy_duration_seconds",
				Help:      "Duration of per-layer deployment in seconds",
				Buckets:   buckets,
			},
			[]string{"layer", "provider"},
		),
		preflightBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preflight_blocks_total",
				Help:      "Total number of layer gates blocked by missing resources",
			},
			[]string{"layer"},
		),

		archiveBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "archive_bytes",
				Help:      "Size of bundled function archives in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
			},
			[]string{"provider"},
		),

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider API calls",
			},
			[]string{"provider", "verb"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider API errors by class",
			},
			[]string{"provider", "class"},
		),

		sweepDeletions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_deletions_total",
				Help:      "Total number of leftover resources removed by the destroy sweep",
			},
			[]string{"provider"},
		),
	}

	registry.MustRegister(
		m.deploymentsStarted,
		m.deploymentsCompleted,
		m.deploymentDuration,
		m.layerDeployDuration,
		m.preflightBlocks,
		m.archiveBytes,
		m.providerCalls,
		m.providerErrors,
		m.sweepDeletions,
	)

	return m, nil
}

// RecordDeploymentStarted counts a started deployment run.
func (m *Metrics) RecordDeploymentStarted(deployment string) {
	if m.deploymentsStarted == nil {
		return
	}
	m.deploymentsStarted.WithLabelValues(deployment).Inc()
}

// RecordDeploymentCompleted records a finished run with its status.
func (m *Metrics) RecordDeploymentCompleted(status string, duration time.Duration) {
	if m.deploymentsCompleted == nil {
		return
	}
	m.deploymentsCompleted.WithLabelValues(status).Inc()
	m.deploymentDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordLayerDeploy records one layer's deployment duration.
func (m *Metrics) RecordLayerDeploy(layer, provider string, duration time.Duration) {
	if m.layerDeployDuration == nil {
		return
	}
	m.layerDeployDuration.WithLabelValues(layer, provider).Observe(duration.Seconds())
}

// RecordPreflightBlock counts a blocked layer gate.
func (m *Metrics) RecordPreflightBlock(layer string) {
	if m.preflightBlocks == nil {
		return
	}
	m.preflightBlocks.WithLabelValues(layer).Inc()
}

// RecordArchiveSize records a bundled archive's size.
func (m *Metrics) RecordArchiveSize(provider string, bytes int) {
	if m.archiveBytes == nil {
		return
	}
	m.archiveBytes.WithLabelValues(provider).Observe(float64(bytes))
}

// RecordProviderCall counts one provider API call.
func (m *Metrics) RecordProviderCall(provider, verb string) {
	if m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, verb).Inc()
}

// RecordProviderError counts one classified provider API error.
func (m *Metrics) RecordProviderError(provider, class string) {
	if m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider, class).Inc()
}

// RecordSweepDeletion counts one leftover resource removed by the
// destroy sweep.
func (m *Metrics) RecordSweepDeletion(provider string) {
	if m.sweepDeletions == nil {
		return
	}
	m.sweepDeletions.WithLabelValues(provider).Inc()
}

// Timer times one operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves the metrics endpoint in the background.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	return nil
}
