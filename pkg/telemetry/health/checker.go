package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// CheckFunc reports whether a component can serve traces. A nil error means
// healthy.
type CheckFunc func(ctx context.Context) error

// Overall and per-check statuses.
const (
	StatusHealthy  = "healthy"
	StatusReady    = "ready"
	StatusDegraded = "degraded"

	CheckOK        = "ok"
	CheckUnhealthy = "unhealthy"
)

// DefaultService is reported when no service name is given.
const DefaultService = "armouriq-api"

// ErrCheckTimeout is reported for a check that did not return in time.
var ErrCheckTimeout = errors.New("health check timeout")

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Advisory bool          `json:"advisory,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// HealthStatus is the body served by the liveness and readiness endpoints.
// PolicyVersion is the content hash of the rule snapshot traces are
// currently evaluated against.
type HealthStatus struct {
	Status        string                 `json:"status"`
	Service       string                 `json:"service,omitempty"`
	PolicyVersion string                 `json:"policy_version,omitempty"`
	Checks        map[string]CheckResult `json:"checks,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

type registration struct {
	fn       CheckFunc
	advisory bool
}

// Checker runs named component checks for the readiness endpoint. Critical
// checks degrade readiness when they fail; advisory checks are reported but
// never change the overall status.
type Checker struct {
	mu           sync.RWMutex
	checks       map[string]registration
	service      string
	policy       func() string
	clock        func() time.Time
	checkTimeout time.Duration
}

// New returns a Checker that gives every check checkTimeout to answer
// (5s when zero).
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout == 0 {
		checkTimeout = 5 * time.Second
	}
	return &Checker{
		checks:       make(map[string]registration),
		service:      DefaultService,
		clock:        time.Now,
		checkTimeout: checkTimeout,
	}
}

// WithService sets the service name reported by every status.
func (c *Checker) WithService(name string) *Checker {
	if name != "" {
		c.service = name
	}
	return c
}

// WithPolicyVersion makes every status carry the version returned by fn.
func (c *Checker) WithPolicyVersion(fn func() string) *Checker {
	c.policy = fn
	return c
}

// RegisterCheck adds or replaces a critical check.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.register(name, registration{fn: check})
}

// RegisterAdvisory adds or replaces a check whose failure is reported
// without degrading readiness.
func (c *Checker) RegisterAdvisory(name string, check CheckFunc) {
	c.register(name, registration{fn: check, advisory: true})
}

func (c *Checker) register(name string, reg registration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = reg
}

// UnregisterCheck removes a check of either kind.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// CheckLiveness reports that the process is up. It runs no checks.
func (c *Checker) CheckLiveness(ctx context.Context) HealthStatus {
	return c.status(StatusHealthy, nil)
}

// CheckReadiness runs every registered check concurrently and aggregates
// the results.
func (c *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]registration, len(c.checks))
	for name, reg := range c.checks {
		checks[name] = reg
	}
	c.mu.RUnlock()

	type named struct {
		name   string
		result CheckResult
	}
	out := make(chan named, len(checks))
	for name, reg := range checks {
		go func(name string, reg registration) {
			res := c.runCheck(ctx, reg.fn)
			res.Advisory = reg.advisory
			out <- named{name, res}
		}(name, reg)
	}

	results := make(map[string]CheckResult, len(checks))
	overall := StatusReady
	for range checks {
		n := <-out
		results[n.name] = n.result
		if n.result.Status == CheckUnhealthy && !n.result.Advisory {
			overall = StatusDegraded
		}
	}
	return c.status(overall, results)
}

func (c *Checker) status(overall string, results map[string]CheckResult) HealthStatus {
	s := HealthStatus{
		Status:    overall,
		Service:   c.service,
		Checks:    results,
		Timestamp: c.clock().UTC(),
	}
	if c.policy != nil {
		s.PolicyVersion = c.policy()
	}
	return s
}

// runCheck gives check its own deadline. A check that ignores its context
// is reported as timed out and left to finish in the background.
func (c *Checker) runCheck(ctx context.Context, check CheckFunc) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- check(checkCtx) }()

	var err error
	select {
	case err = <-done:
	case <-checkCtx.Done():
		err = ErrCheckTimeout
	}

	res := CheckResult{Status: CheckOK, Duration: time.Since(start)}
	if err != nil {
		res.Status = CheckUnhealthy
		res.Message = err.Error()
	}
	return res
}

// GetCheck returns the named check, or nil.
func (c *Checker) GetCheck(name string) CheckFunc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checks[name].fn
}

// ListChecks returns the registered check names in sorted order.
func (c *Checker) ListChecks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckCount returns the number of registered checks.
func (c *Checker) CheckCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.checks)
}
