package source

import (
	"context"
	"sync"

	"armouriq/armour/pkg/policy/ast"
	"armouriq/armour/pkg/policy/engine"
)

// MemorySource is an in-memory policy source, used by tests and by callers
// that build rules programmatically.
type MemorySource struct {
	mu      sync.Mutex
	ruleSet *ast.RuleSet
	subs    []chan engine.PolicyEvent
}

// NewMemorySource creates a source holding rules.
func NewMemorySource(rules ...*ast.PolicyRule) *MemorySource {
	return &MemorySource{ruleSet: &ast.RuleSet{Version: "memory", Source: "memory", Rules: rules}}
}

// LoadRuleSet returns a copy of the stored rule set.
func (s *MemorySource) LoadRuleSet(ctx context.Context) (*ast.RuleSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules := make([]*ast.PolicyRule, len(s.ruleSet.Rules))
	copy(rules, s.ruleSet.Rules)
	return &ast.RuleSet{Version: s.ruleSet.Version, Source: s.ruleSet.Source, Rules: rules}, nil
}

// Watch returns a channel that receives an event on every SetRuleSet.
func (s *MemorySource) Watch(ctx context.Context) (<-chan engine.PolicyEvent, error) {
	ch := make(chan engine.PolicyEvent, 1)

	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// SetRuleSet replaces the stored rules and notifies watchers.
func (s *MemorySource) SetRuleSet(set *ast.RuleSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ruleSet = set
	for _, sub := range s.subs {
		select {
		case sub <- engine.PolicyEvent{Type: engine.PolicyEventModified, Path: "memory"}:
		default:
		}
	}
}
