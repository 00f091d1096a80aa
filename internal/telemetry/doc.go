// Package telemetry wires OpenTelemetry tracing, metrics and log export for
// feedbackd.
//
// Telemetry is disabled by default. When enabled, New builds OTLP exporters
// over gRPC or HTTP for the signals that are switched on:
//
//	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, cfg.Logging.OTEL))
//	defer tel.Shutdown(context.Background())
//
// The tracer provider is registered globally, which is how the training
// orchestrator's run and phase spans and the HTTP request metrics reach the
// collector. The logger provider is handed to the zap bridge in the logging
// package.
//
// Plaintext export is refused for non-loopback endpoints.
package telemetry
