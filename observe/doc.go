// Package observe provides telemetry for the resilience layer: structured
// logging, OpenTelemetry metrics, and tracing for outbound StateSet API
// calls and the components that pace them.
//
// Components accept a Logger and a Metrics through their configs and fall
// back to no-ops when none is supplied, so observability never changes
// control flow.
//
// # Usage
//
//	obs, err := observe.NewObserver(ctx, observe.Config{
//	    ServiceName: "stateset-mcp-server",
//	    Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "prometheus"},
//	    Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer obs.Shutdown(ctx)
package observe
