// Package telemetry groups the observability packages of the governance
// runtime.
//
//   - logging: slog handler with execution/request ids from context and
//     redaction of secrets and signatures
//   - metrics: Prometheus collector for evaluations, traces and approvals
//   - tracing: OpenTelemetry spans exported over OTLP gRPC
//   - health: liveness, readiness and version endpoints
//
// Each package is configured from its section of config.TelemetryConfig and
// wired together in pkg/server.
package telemetry
