package intent

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"time"

	"armouriq/armour/pkg/action"
	"armouriq/armour/pkg/questionnaire"
	"armouriq/armour/pkg/value"
)

// BuildRequest carries the slots gathered for one action.
type BuildRequest struct {
	Action string
	Slots  value.Record

	// Confidence is passed through unmodified when set. When nil the
	// schema completeness score is used.
	Confidence *float64

	Step *Step
}

// BuildResult is either a signed token or the questions still open.
type BuildResult struct {
	Token *Token

	// Questions lists the required fields that are missing or could not be
	// read. Non-empty means NeedsInput.
	Questions []questionnaire.Question

	// Fields are the slots after coercion; invalid answers are dropped.
	Fields value.Record
}

// NeedsInput reports whether the build stopped on missing fields.
func (r *BuildResult) NeedsInput() bool {
	return r.Token == nil && len(r.Questions) > 0
}

// Builder narrows slots into signed intent tokens.
type Builder struct {
	registry    *action.Registry
	coordinator *questionnaire.Coordinator
	signer      *Signer
	clock       func() time.Time
	random      io.Reader
	logger      *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithClock sets the clock used for issued_at.
func WithClock(clock func() time.Time) BuilderOption {
	return func(b *Builder) { b.clock = clock }
}

// WithRandom sets the nonce source.
func WithRandom(r io.Reader) BuilderOption {
	return func(b *Builder) { b.random = r }
}

// WithLogger sets the builder's logger.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = logger }
}

// NewBuilder returns a builder for the actions in registry.
func NewBuilder(registry *action.Registry, coordinator *questionnaire.Coordinator, signer *Signer, opts ...BuilderOption) *Builder {
	b := &Builder{
		registry:    registry,
		coordinator: coordinator,
		signer:      signer,
		clock:       time.Now,
		random:      rand.Reader,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "intent.builder")
	return b
}

// Build coerces the slots to their declared types and, if every required
// field is present, returns a signed token. Missing or unreadable required
// fields produce questions instead; that is not an error.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	schema, ok := b.registry.Lookup(req.Action)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, req.Action)
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidConfidence, *req.Confidence)
	}

	fields, invalid := b.coerce(schema, req.Slots)
	result := &BuildResult{Fields: fields}

	questions := b.coordinator.PendingQuestions(req.Action, fields)
	for i := range questions {
		if err, ok := invalid[questions[i].Field]; ok {
			questions[i].Error = err.Error()
		}
	}
	if len(questions) > 0 {
		result.Questions = questions
		b.logger.Debug("intent needs input",
			"action", req.Action,
			"missing", len(questions),
			"invalid", len(invalid),
		)
		return result, nil
	}

	confidence := schema.Completeness(fields)
	if req.Confidence != nil {
		confidence = *req.Confidence
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(b.random, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	token := &Token{
		Action:     req.Action,
		Fields:     fields,
		Confidence: confidence,
		IssuedAt:   b.clock().UTC().Truncate(time.Microsecond),
		Nonce:      nonce,
		Step:       req.Step,
	}
	if err := b.signer.Sign(token); err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	b.logger.Info("intent token issued",
		"action", token.Action,
		"nonce", token.NonceHex(),
		"confidence", token.Confidence,
	)
	result.Token = token
	return result, nil
}

// coerce types every slot the schema declares. Slots the schema does not
// know are kept as given. Unreadable values are dropped and reported.
func (b *Builder) coerce(schema *action.Schema, slots value.Record) (value.Record, map[string]error) {
	out := make(value.Record, len(slots))
	invalid := make(map[string]error)
	for name, v := range slots {
		f, ok := schema.Field(name)
		if !ok {
			out[name] = v
			continue
		}
		c, err := Coerce(name, v, f.Type)
		if err != nil {
			invalid[name] = err
			b.logger.Debug("dropping unreadable answer", "action", schema.Action, "field", name, "error", err)
			continue
		}
		out[name] = c
	}
	return out, invalid
}
