package trace

import (
	"fmt"
	"time"
)

// Config configures the orchestrator.
type Config struct {
	// MaxRounds is how many questionnaire rounds a trace may go through.
	// One more NeedsInput after that blocks the trace.
	// Default: 3.
	MaxRounds int

	// PendingTTL is how long a parked trace waits for answers before it is
	// swept to ABANDONED.
	// Default: 30 minutes.
	PendingTTL time.Duration

	// CollaboratorTimeout bounds a single reasoner or executor call.
	// Default: 30 seconds.
	CollaboratorTimeout time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRounds:           3,
		PendingTTL:          30 * time.Minute,
		CollaboratorTimeout: 30 * time.Second,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MaxRounds < 1 {
		return fmt.Errorf("max rounds must be at least 1, got %d", c.MaxRounds)
	}
	if c.PendingTTL <= 0 {
		return fmt.Errorf("pending ttl must be positive")
	}
	if c.CollaboratorTimeout <= 0 {
		return fmt.Errorf("collaborator timeout must be positive")
	}
	return nil
}
