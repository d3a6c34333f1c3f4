package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"armouriq/armour/pkg/config"
)

// otherLabel replaces label values once a metric's cardinality limit is hit.
const otherLabel = "other"

// Collector owns every Prometheus metric the service exports. It implements
// the policy engine's and the trace orchestrator's MetricsRecorder
// interfaces.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry
	enabled  bool

	policyMetrics   *PolicyMetrics
	traceMetrics    *TraceMetrics
	approvalMetrics *ApprovalMetrics

	// Rule ids and tools come from policy files; cap their label sets.
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector registered with registry. If registry is
// nil a new one is created.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	engine.SetMetrics(collector)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg == nil {
		cfg = &config.MetricsConfig{}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.TraceDurationBuckets) == 0 {
		cfg.TraceDurationBuckets = append([]float64(nil), config.DefaultTraceDurationBuckets...)
	}

	return &Collector{
		config:             cfg,
		registry:           registry,
		enabled:            cfg.IsEnabled(),
		policyMetrics:      NewPolicyMetrics(cfg, registry),
		traceMetrics:       NewTraceMetrics(cfg, registry),
		approvalMetrics:    NewApprovalMetrics(cfg, registry),
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}
}

// RecordEvaluation records one policy evaluation of tool.
func (c *Collector) RecordEvaluation(tool, verdict string, duration time.Duration) {
	if !c.enabled {
		return
	}
	if !c.cardinalityLimiter.Allow("tool:" + tool) {
		tool = otherLabel
	}
	c.policyMetrics.RecordEvaluation(tool, verdict, duration)
}

// RecordRuleFired records a rule whose tree evaluated to true.
func (c *Collector) RecordRuleFired(rule, severity string) {
	if !c.enabled {
		return
	}
	if !c.cardinalityLimiter.Allow("rule:" + rule) {
		rule = otherLabel
	}
	c.policyMetrics.RecordRuleFired(rule, severity)
}

// RecordReload records a rule snapshot reload attempt.
func (c *Collector) RecordReload(success bool, ruleCount int) {
	if !c.enabled {
		return
	}
	c.policyMetrics.RecordReload(success, ruleCount)
}

// RecordTrace records a trace reaching MCP_OUTCOME or ABANDONED.
func (c *Collector) RecordTrace(status, reason string, duration time.Duration) {
	if !c.enabled {
		return
	}
	c.traceMetrics.RecordTrace(status, reason, duration)
}

// RecordQuestionRound records a trace parking for answers.
func (c *Collector) RecordQuestionRound(action string) {
	if !c.enabled {
		return
	}
	c.traceMetrics.RecordQuestionRound(action)
}

// RecordApproval records a resolved approval and what came of it.
func (c *Collector) RecordApproval(decision, status string) {
	if !c.enabled {
		return
	}
	c.approvalMetrics.RecordResolution(decision, status)
}

// RecordApprovalQueued records an approval entering the queue.
func (c *Collector) RecordApprovalQueued(tool string) {
	if !c.enabled {
		return
	}
	if !c.cardinalityLimiter.Allow("tool:" + tool) {
		tool = otherLabel
	}
	c.approvalMetrics.RecordQueued(tool)
}

// ObservePending exports the result of count as the pending trace gauge.
// count is called on every scrape.
func (c *Collector) ObservePending(count func() int) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "traces_pending",
			Help:      "Number of traces waiting for questionnaire answers",
		},
		func() float64 { return float64(count()) },
	))
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter allowing maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether labelSet may be used: it is already known or the
// limit has not been reached.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
