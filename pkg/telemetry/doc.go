// Package telemetry bundles the observability stack for twinforge:
// structured logging (zerolog), distributed tracing (OpenTelemetry),
// and Prometheus metrics, configured once at process start and handed
// down to every component.
//
// Initialize at startup:
//
//	tel, err := telemetry.New(telemetry.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Components receive child loggers:
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger = logger.WithRunID(runID).WithLayer("layer_3_hot")
//	logger.Info("Layer deployed")
//
// Metrics are exposed over HTTP during long-running deploys via
// StartMetricsServer.
package telemetry
