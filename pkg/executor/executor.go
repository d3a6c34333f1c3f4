package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"armouriq/armour/pkg/intent"
)

// ErrReplay is returned when a token's nonce has already been redeemed.
var ErrReplay = errors.New("intent token already redeemed")

// Result describes a completed side effect.
type Result struct {
	Reference  string    `json:"reference"`
	Tool       string    `json:"tool"`
	Action     string    `json:"action"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Executor performs the side effect an intent token authorises. It is only
// called after policy evaluation returned EXECUTED or a human approved.
type Executor interface {
	Execute(ctx context.Context, tool string, token *intent.Token) (*Result, error)
}

// Verifier checks a token before it is acted on.
type Verifier interface {
	Verify(token *intent.Token) error
}

// Simulated is an in-process executor. It re-verifies every token, redeems
// each nonce at most once and hands back a booking reference.
type Simulated struct {
	verifier Verifier
	logger   *slog.Logger
	clock    func() time.Time
	retain   time.Duration

	mu       sync.Mutex
	redeemed map[string]time.Time
}

// Option configures a Simulated executor.
type Option func(*Simulated)

// WithClock replaces the executor's clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Simulated) { s.clock = clock }
}

// WithRetention sets how long redeemed nonces are remembered. It should be
// at least the signer's TTL; older tokens fail verification anyway.
func WithRetention(d time.Duration) Option {
	return func(s *Simulated) { s.retain = d }
}

// NewSimulated returns a simulated executor that verifies with verifier.
func NewSimulated(verifier Verifier, logger *slog.Logger, opts ...Option) *Simulated {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Simulated{
		verifier: verifier,
		logger:   logger.With("component", "executor"),
		clock:    time.Now,
		retain:   2 * intent.DefaultTTL,
		redeemed: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute verifies token, redeems its nonce and returns a reference.
func (s *Simulated) Execute(ctx context.Context, tool string, token *intent.Token) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if token == nil {
		return nil, fmt.Errorf("token cannot be nil")
	}
	if err := s.verifier.Verify(token); err != nil {
		s.logger.Warn("refusing unverifiable token", "tool", tool, "action", token.Action, "error", err)
		return nil, err
	}

	now := s.clock()
	nonce := token.NonceHex()

	s.mu.Lock()
	s.prune(now)
	if _, seen := s.redeemed[nonce]; seen {
		s.mu.Unlock()
		s.logger.Warn("refusing replayed token", "tool", tool, "action", token.Action, "nonce", nonce)
		return nil, fmt.Errorf("%w: nonce %s", ErrReplay, nonce)
	}
	s.redeemed[nonce] = now
	s.mu.Unlock()

	res := &Result{
		Reference:  NewReference(),
		Tool:       tool,
		Action:     token.Action,
		ExecutedAt: now.UTC(),
	}
	s.logger.Info("action executed",
		"tool", tool,
		"action", token.Action,
		"reference", res.Reference,
	)
	return res, nil
}

func (s *Simulated) prune(now time.Time) {
	for nonce, at := range s.redeemed {
		if now.Sub(at) > s.retain {
			delete(s.redeemed, nonce)
		}
	}
}

// NewReference returns a booking reference: "BK-" and ten upper-case hex digits.
func NewReference() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "BK-" + strings.ToUpper(id[:10])
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, tool string, token *intent.Token) (*Result, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, tool string, token *intent.Token) (*Result, error) {
	return f(ctx, tool, token)
}
