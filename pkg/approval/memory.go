package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps approvals in a map. Records are copied in and out.
type MemoryStore struct {
	mu        sync.Mutex
	approvals map[string]*Approval
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{approvals: make(map[string]*Approval)}
}

// Create stores a new approval.
func (s *MemoryStore) Create(ctx context.Context, a *Approval) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("approval must have an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvals[a.ID]; ok {
		return fmt.Errorf("approval %s already exists", a.ID)
	}
	c := *a
	s.approvals[a.ID] = &c
	return nil
}

// Get returns a copy of the approval.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

// ListPending returns pending approvals, oldest first.
func (s *MemoryStore) ListPending(ctx context.Context) ([]*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Approval
	for _, a := range s.approvals {
		if a.IsPending() {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Resolve records d if the approval is still pending.
func (s *MemoryStore) Resolve(ctx context.Context, id string, d Decision, at time.Time) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !a.IsPending() {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, a.Status)
	}
	a.Status = d.Status()
	a.Approver = d.Approver
	a.Comment = d.Comment
	resolved := at.UTC()
	a.ResolvedAt = &resolved
	c := *a
	return &c, nil
}

// RecordOutcome stores the post-decision result.
func (s *MemoryStore) RecordOutcome(ctx context.Context, id, reference, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return ErrNotFound
	}
	a.Reference = reference
	a.OutcomeReason = reason
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
