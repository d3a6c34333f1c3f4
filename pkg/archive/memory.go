package archive

import (
	"context"
	"sort"
	"sync"
	"time"

	"armouriq/armour/pkg/trace"
)

// MemoryStore implements Store in memory, for tests and for running without
// a database.
type MemoryStore struct {
	mu     sync.RWMutex
	traces map[string]*trace.Trace
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{traces: make(map[string]*trace.Trace)}
}

// Save upserts t unless a terminal version is already stored.
func (s *MemoryStore) Save(ctx context.Context, t *trace.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.traces[t.ExecutionID]; ok && prev.IsTerminal() {
		return ErrImmutable
	}
	s.traces[t.ExecutionID] = t.Clone()
	return nil
}

// Get returns a copy of the stored trace.
func (s *MemoryStore) Get(ctx context.Context, executionID string) (*trace.Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.traces[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

// List returns matching traces, oldest update first.
func (s *MemoryStore) List(ctx context.Context, q *Query) ([]*trace.Trace, error) {
	s.mu.RLock()
	var out []*trace.Trace
	for _, t := range s.traces {
		if matches(t, q) {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ExecutionID < out[j].ExecutionID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})

	if q != nil && q.Offset > 0 {
		if q.Offset >= len(out) {
			return []*trace.Trace{}, nil
		}
		out = out[q.Offset:]
	}
	if q != nil && q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Count returns the number of matching traces.
func (s *MemoryStore) Count(ctx context.Context, q *Query) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, t := range s.traces {
		if matches(t, q) {
			n++
		}
	}
	return n, nil
}

// DeleteBefore removes terminal traces last updated before cutoff.
func (s *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.traces {
		if t.IsTerminal() && t.UpdatedAt.Before(cutoff) {
			delete(s.traces, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// Size returns the number of stored traces.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.traces)
}

func matches(t *trace.Trace, q *Query) bool {
	if q == nil {
		return true
	}
	if len(q.ExecutionIDs) > 0 {
		found := false
		for _, id := range q.ExecutionIDs {
			if id == t.ExecutionID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Status != "" && t.Status != q.Status {
		return false
	}
	if q.Outcome != "" && OutcomeOf(t) != q.Outcome {
		return false
	}
	if q.StartTime != nil && t.UpdatedAt.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && !t.UpdatedAt.Before(*q.EndTime) {
		return false
	}
	return true
}
