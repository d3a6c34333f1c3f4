package health

import (
	"context"
	"errors"
	"fmt"
)

// Pinger is a store that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports a store as unhealthy when Ping fails.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// PolicyCheck fails until a rule set has been loaded. A loaded but empty
// rule set is healthy: every request is then denied by default.
func PolicyCheck(version func() string) CheckFunc {
	return func(ctx context.Context) error {
		if version() == "" {
			return errors.New("no policy snapshot loaded")
		}
		return nil
	}
}

// BacklogCheck fails when more than max traces are parked waiting for
// answers. A max of zero disables the check.
func BacklogCheck(pending func() int, max int) CheckFunc {
	return func(ctx context.Context) error {
		if max <= 0 {
			return nil
		}
		if n := pending(); n > max {
			return fmt.Errorf("%d traces pending, limit %d", n, max)
		}
		return nil
	}
}
