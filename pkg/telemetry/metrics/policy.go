package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"armouriq/armour/pkg/config"
)

// PolicyMetrics tracks metrics related to policy evaluation.
//
// Metrics:
//   - armour_governance_policy_evaluations_total: evaluations by tool and verdict
//   - armour_governance_policy_evaluation_duration_seconds: evaluation duration by tool
//   - armour_governance_policy_rules_fired_total: rules whose tree held, by severity
//   - armour_governance_policy_reloads_total: snapshot reloads by result
//   - armour_governance_policy_rules_loaded: rules in the active snapshot
type PolicyMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	rulesFired         *prometheus.CounterVec
	reloadsTotal       *prometheus.CounterVec
	rulesLoaded        prometheus.Gauge
}

// NewPolicyMetrics creates and registers policy metrics with the provided registry.
func NewPolicyMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *PolicyMetrics {
	pm := &PolicyMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_evaluations_total",
				Help:      "Total number of policy evaluations",
			},
			[]string{"tool", "verdict"},
		),

		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_evaluation_duration_seconds",
				Help:      "Duration of policy evaluation in seconds",
				// Evaluations are in-memory tree walks.
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
			[]string{"tool"},
		),

		rulesFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_rules_fired_total",
				Help:      "Total number of times a rule's condition tree held",
			},
			[]string{"rule_id", "severity"},
		),

		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_reloads_total",
				Help:      "Total number of rule snapshot reloads",
			},
			[]string{"result"},
		),

		rulesLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_rules_loaded",
				Help:      "Number of rules in the active snapshot",
			},
		),
	}

	registry.MustRegister(
		pm.evaluationsTotal,
		pm.evaluationDuration,
		pm.rulesFired,
		pm.reloadsTotal,
		pm.rulesLoaded,
	)

	return pm
}

// RecordEvaluation records a policy evaluation.
func (pm *PolicyMetrics) RecordEvaluation(tool, verdict string, duration time.Duration) {
	pm.evaluationsTotal.WithLabelValues(tool, verdict).Inc()
	pm.evaluationDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordRuleFired records a rule whose condition tree held.
func (pm *PolicyMetrics) RecordRuleFired(ruleID, severity string) {
	pm.rulesFired.WithLabelValues(ruleID, severity).Inc()
}

// RecordReload records a reload. The rule gauge only moves on success.
func (pm *PolicyMetrics) RecordReload(success bool, ruleCount int) {
	result := "success"
	if !success {
		result = "failure"
	}
	pm.reloadsTotal.WithLabelValues(result).Inc()
	if success {
		pm.rulesLoaded.Set(float64(ruleCount))
	}
}
