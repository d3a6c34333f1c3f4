// Package metrics exports Prometheus metrics for policy evaluation, traces
// and approvals.
//
// A single Collector implements the MetricsRecorder interfaces of the
// policy engine and the trace orchestrator:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	eng.SetMetrics(collector)
//	deps.Metrics = collector
//	collector.ObservePending(orch.PendingCount)
//	router.Handle("/metrics", collector.Handler())
//
// Rule ids and tool names come from policy files, so their label values
// are capped; past the cap they are reported as "other".
package metrics
