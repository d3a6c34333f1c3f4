package questionnaire

import (
	"fmt"
	"sort"
	"strings"

	"armouriq/armour/pkg/action"
	"armouriq/armour/pkg/value"
)

// DefaultMaxQuestions caps a single round of questions.
const DefaultMaxQuestions = 10

// Question asks the user for one missing field.
type Question struct {
	ID           string              `json:"id"`
	Field        string              `json:"field"`
	QuestionText string              `json:"question_text"`
	WhyAsking    string              `json:"why_asking"`
	Step         int                 `json:"step"`
	Action       string              `json:"action"`
	Error        string              `json:"error,omitempty"`
	Budget       *action.BudgetRange `json:"budget,omitempty"`

	priority int
}

// Answer is a free-text reply to a question. Field wins over the field
// encoded in ID when both are present.
type Answer struct {
	ID     string `json:"id"`
	Answer string `json:"answer"`
	Field  string `json:"field,omitempty"`
	Step   int    `json:"step,omitempty"`
}

// QuestionID returns the id for a question about field of actionName.
func QuestionID(actionName, field string) string {
	return actionName + "." + field
}

// Coordinator generates questions from the action registry.
type Coordinator struct {
	registry     *action.Registry
	maxQuestions int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxQuestions caps the number of questions per round.
func WithMaxQuestions(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxQuestions = n
		}
	}
}

// NewCoordinator returns a coordinator backed by registry.
func NewCoordinator(registry *action.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{registry: registry, maxQuestions: DefaultMaxQuestions}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PendingQuestions returns a question for every required field of actionName
// that known lacks, ordered by field priority then declared position. An
// unknown action has no questions.
func (c *Coordinator) PendingQuestions(actionName string, known value.Record) []Question {
	schema, ok := c.registry.Lookup(actionName)
	if !ok {
		return nil
	}

	missing := schema.Missing(known)
	if len(missing) == 0 {
		return nil
	}

	budget := schema.Budget
	out := make([]Question, 0, len(missing))
	for _, f := range missing {
		out = append(out, Question{
			ID:           QuestionID(actionName, f.Name),
			Field:        f.Name,
			QuestionText: f.Question,
			WhyAsking:    f.WhyAsking,
			Step:         schema.Position(f.Name),
			Action:       actionName,
			Budget:       &budget,
			priority:     f.Priority,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].Step < out[j].Step
	})

	if len(out) > c.maxQuestions {
		out = out[:c.maxQuestions]
	}
	return out
}

// ApplyAnswers returns a copy of slots with each non-blank answer written to
// its field. Fields not named by an answer are left as they were.
func ApplyAnswers(answers []Answer, slots value.Record) (value.Record, error) {
	out := slots.Clone()
	for i, a := range answers {
		text := strings.TrimSpace(a.Answer)
		if text == "" {
			continue
		}
		field, err := a.field()
		if err != nil {
			return nil, fmt.Errorf("answer %d: %w", i, err)
		}
		out[field] = value.String(text)
	}
	return out, nil
}

func (a Answer) field() (string, error) {
	if f := strings.TrimSpace(a.Field); f != "" {
		return f, nil
	}
	idx := strings.Index(a.ID, ".")
	if idx < 0 || idx == len(a.ID)-1 {
		return "", &InvalidAnswerError{ID: a.ID}
	}
	return a.ID[idx+1:], nil
}

// InvalidAnswerError means an answer names no field, neither directly nor
// through its question id.
type InvalidAnswerError struct {
	ID string
}

func (e *InvalidAnswerError) Error() string {
	return fmt.Sprintf("answer %q does not identify a field", e.ID)
}
