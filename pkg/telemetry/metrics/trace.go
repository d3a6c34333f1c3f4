package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"armouriq/armour/pkg/config"
)

// TraceMetrics tracks trace outcomes.
//
// Metrics:
//   - armour_governance_traces_total: finished traces by status and reason
//   - armour_governance_trace_duration_seconds: wall time from request to outcome
//   - armour_governance_question_rounds_total: questionnaire rounds by action
type TraceMetrics struct {
	tracesTotal    *prometheus.CounterVec
	traceDuration  *prometheus.HistogramVec
	questionRounds *prometheus.CounterVec
}

// NewTraceMetrics creates and registers trace metrics.
func NewTraceMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *TraceMetrics {
	tm := &TraceMetrics{
		tracesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "traces_total",
				Help:      "Total number of finished traces",
			},
			[]string{"status", "reason"},
		),

		traceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "trace_duration_seconds",
				Help:      "Duration of traces from request to outcome in seconds",
				Buckets:   cfg.TraceDurationBuckets,
			},
			[]string{"status"},
		),

		questionRounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "question_rounds_total",
				Help:      "Total number of questionnaire rounds",
			},
			[]string{"action"},
		),
	}

	registry.MustRegister(tm.tracesTotal, tm.traceDuration, tm.questionRounds)
	return tm
}

// RecordTrace records a finished trace.
func (tm *TraceMetrics) RecordTrace(status, reason string, duration time.Duration) {
	tm.tracesTotal.WithLabelValues(status, reason).Inc()
	tm.traceDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordQuestionRound records a questionnaire round for action.
func (tm *TraceMetrics) RecordQuestionRound(action string) {
	tm.questionRounds.WithLabelValues(action).Inc()
}

// ApprovalMetrics tracks the human approval queue.
//
// Metrics:
//   - armour_governance_approvals_queued_total: approvals queued by tool
//   - armour_governance_approvals_resolved_total: resolutions by decision and resulting status
type ApprovalMetrics struct {
	queued   *prometheus.CounterVec
	resolved *prometheus.CounterVec
}

// NewApprovalMetrics creates and registers approval metrics.
func NewApprovalMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ApprovalMetrics {
	am := &ApprovalMetrics{
		queued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "approvals_queued_total",
				Help:      "Total number of actions queued for human approval",
			},
			[]string{"tool"},
		),
		resolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "approvals_resolved_total",
				Help:      "Total number of resolved approvals",
			},
			[]string{"decision", "status"},
		),
	}

	registry.MustRegister(am.queued, am.resolved)
	return am
}

// RecordQueued records an approval entering the queue.
func (am *ApprovalMetrics) RecordQueued(tool string) {
	am.queued.WithLabelValues(tool).Inc()
}

// RecordResolution records a resolved approval.
func (am *ApprovalMetrics) RecordResolution(decision, status string) {
	am.resolved.WithLabelValues(decision, status).Inc()
}
