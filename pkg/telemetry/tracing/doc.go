// Package tracing wires OpenTelemetry spans for the trace pipeline.
//
// New builds an SDK tracer provider exporting over OTLP gRPC
// (go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc) and
// installs it with the W3C propagator. When tracing is disabled the Tracer
// hands out noop spans, so callers never branch on it.
//
// The orchestrator opens one span per trace ("trace.execute") with child
// spans for policy evaluation and execution; the HTTP Middleware makes the
// request span their parent.
//
// Sampling strategies: always, never, ratio and parent_ratio (the default,
// which honours an upstream sampling decision).
package tracing
