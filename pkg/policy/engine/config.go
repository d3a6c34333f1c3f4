package engine

import (
	"fmt"
	"time"
)

// EngineConfig contains configuration for the policy evaluation engine.
// Evaluation always fails closed: any error blocks.
type EngineConfig struct {
	// EvaluationTimeout bounds a single Evaluate call.
	// Default: 100ms.
	EvaluationTimeout time.Duration

	// MaxRules is the maximum number of rules a snapshot may hold.
	// Default: 1000.
	MaxRules int

	// WatchPolicies starts a background watcher that reloads the snapshot
	// when the source changes.
	// Default: false.
	WatchPolicies bool

	// LogBlockAndLog logs the full report at WARN when a BLOCK_AND_LOG rule fires.
	// Default: true.
	LogBlockAndLog bool
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		EvaluationTimeout: 100 * time.Millisecond,
		MaxRules:          1000,
		WatchPolicies:     false,
		LogBlockAndLog:    true,
	}
}

// Validate validates the engine configuration.
func (c *EngineConfig) Validate() error {
	if c.EvaluationTimeout <= 0 {
		return fmt.Errorf("%w: evaluation timeout must be positive", ErrInvalidConfig)
	}
	if c.MaxRules <= 0 {
		return fmt.Errorf("%w: max rules must be positive", ErrInvalidConfig)
	}
	return nil
}

// WithEvaluationTimeout sets the evaluation timeout.
func (c *EngineConfig) WithEvaluationTimeout(timeout time.Duration) *EngineConfig {
	c.EvaluationTimeout = timeout
	return c
}

// WithMaxRules sets the maximum number of rules.
func (c *EngineConfig) WithMaxRules(max int) *EngineConfig {
	c.MaxRules = max
	return c
}

// WithWatch enables or disables the source watcher.
func (c *EngineConfig) WithWatch(enabled bool) *EngineConfig {
	c.WatchPolicies = enabled
	return c
}
