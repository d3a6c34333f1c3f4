package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"armouriq/armour/pkg/trace"
)

var base = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

// completed returns a trace that reached MCP_OUTCOME at the given time.
func completed(t *testing.T, id string, at time.Time, status trace.OutcomeStatus) *trace.Trace {
	t.Helper()
	tr := trace.New(id, at)
	steps := []struct {
		typ     trace.StageType
		payload interface{}
	}{
		{trace.StageUserInput, &trace.UserInputPayload{Text: "Pay my electricity bill of ₹3000"}},
		{trace.StageReasoning, &trace.ReasoningPayload{Text: "bill payment", Action: "pay_bill"}},
		{trace.StagePlan, &trace.PlanPayload{Steps: []string{"pay_bill"}}},
		{trace.StageMCPOutcome, &trace.OutcomePayload{Status: status, Reason: "test", Tool: "payments.pay_bill"}},
	}
	for _, s := range steps {
		if err := tr.Append(s.typ, s.payload, at); err != nil {
			t.Fatalf("Append(%s) failed: %v", s.typ, err)
		}
	}
	return tr
}

// parked returns a trace waiting for questionnaire answers.
func parked(t *testing.T, id string, at time.Time) *trace.Trace {
	t.Helper()
	tr := trace.New(id, at)
	for _, typ := range []trace.StageType{trace.StageUserInput, trace.StageReasoning, trace.StagePlan} {
		if err := tr.Append(typ, nil, at); err != nil {
			t.Fatalf("Append(%s) failed: %v", typ, err)
		}
	}
	if err := tr.Await(at); err != nil {
		t.Fatalf("Await() failed: %v", err)
	}
	return tr
}

func newStores(t *testing.T) map[string]Store {
	t.Helper()
	cfg := DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "traces.db")
	sqlite, err := NewSQLiteStore(cfg, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore() failed: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStore_SaveGet(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tr := completed(t, "exec-1", base, trace.OutcomeExecuted)

			if err := store.Save(ctx, tr); err != nil {
				t.Fatalf("Save() failed: %v", err)
			}

			got, err := store.Get(ctx, "exec-1")
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			if got.State != trace.StateMCPOutcome || got.Status != trace.StatusCompleted {
				t.Errorf("got state %s status %s, want MCP_OUTCOME COMPLETED", got.State, got.Status)
			}
			if len(got.Stages) != 4 {
				t.Fatalf("got %d stages, want 4", len(got.Stages))
			}
			out := got.Outcome()
			if out == nil {
				t.Fatal("Outcome() = nil after round trip")
			}
			if out.Status != trace.OutcomeExecuted || out.Tool != "payments.pay_bill" {
				t.Errorf("Outcome() = %+v", out)
			}
			if !got.UpdatedAt.Equal(base) {
				t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, base)
			}

			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_TerminalTraceIsImmutable(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			open := parked(t, "exec-1", base)
			if err := store.Save(ctx, open); err != nil {
				t.Fatalf("Save(parked) failed: %v", err)
			}
			// An open trace may be saved again as it progresses.
			if err := open.Resume(base.Add(time.Second)); err != nil {
				t.Fatal(err)
			}
			if err := store.Save(ctx, open); err != nil {
				t.Fatalf("Save(resumed) failed: %v", err)
			}

			if err := open.Append(trace.StageMCPOutcome, &trace.OutcomePayload{Status: trace.OutcomeBlocked, Reason: trace.ReasonMissingRequiredFields}, base.Add(2*time.Second)); err != nil {
				t.Fatal(err)
			}
			if err := store.Save(ctx, open); err != nil {
				t.Fatalf("Save(terminal) failed: %v", err)
			}

			if err := store.Save(ctx, completed(t, "exec-1", base.Add(time.Hour), trace.OutcomeExecuted)); !errors.Is(err, ErrImmutable) {
				t.Fatalf("overwriting terminal trace: error = %v, want ErrImmutable", err)
			}

			got, err := store.Get(ctx, "exec-1")
			if err != nil {
				t.Fatal(err)
			}
			if got.Outcome().Status != trace.OutcomeBlocked {
				t.Errorf("stored outcome = %s, want BLOCKED", got.Outcome().Status)
			}
		})
	}
}

func TestStore_ListAndCount(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			traces := []*trace.Trace{
				completed(t, "exec-1", base, trace.OutcomeExecuted),
				completed(t, "exec-2", base.Add(time.Minute), trace.OutcomeBlocked),
				parked(t, "exec-3", base.Add(2*time.Minute)),
				completed(t, "exec-4", base.Add(3*time.Minute), trace.OutcomeBlocked),
			}
			for _, tr := range traces {
				if err := store.Save(ctx, tr); err != nil {
					t.Fatalf("Save(%s) failed: %v", tr.ExecutionID, err)
				}
			}

			start := base.Add(time.Minute)
			end := base.Add(3 * time.Minute)

			tests := []struct {
				name  string
				query *Query
				want  []string
			}{
				{"all", nil, []string{"exec-1", "exec-2", "exec-3", "exec-4"}},
				{"by status", &Query{Status: trace.StatusPending}, []string{"exec-3"}},
				{"by outcome", &Query{Outcome: "BLOCKED"}, []string{"exec-2", "exec-4"}},
				{"by ids", &Query{ExecutionIDs: []string{"exec-4", "exec-1"}}, []string{"exec-1", "exec-4"}},
				{"time window", &Query{StartTime: &start, EndTime: &end}, []string{"exec-2", "exec-3"}},
				{"limit", &Query{Limit: 2}, []string{"exec-1", "exec-2"}},
				{"offset", &Query{Offset: 3}, []string{"exec-4"}},
				{"limit and offset", &Query{Limit: 1, Offset: 1}, []string{"exec-2"}},
				{"offset past end", &Query{Offset: 10}, nil},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := store.List(ctx, tt.query)
					if err != nil {
						t.Fatalf("List() failed: %v", err)
					}
					var ids []string
					for _, tr := range got {
						ids = append(ids, tr.ExecutionID)
					}
					if len(ids) != len(tt.want) {
						t.Fatalf("List() = %v, want %v", ids, tt.want)
					}
					for i := range ids {
						if ids[i] != tt.want[i] {
							t.Errorf("List()[%d] = %s, want %s", i, ids[i], tt.want[i])
						}
					}
				})
			}

			n, err := store.Count(ctx, &Query{Outcome: "BLOCKED"})
			if err != nil {
				t.Fatalf("Count() failed: %v", err)
			}
			if n != 2 {
				t.Errorf("Count(BLOCKED) = %d, want 2", n)
			}
		})
	}
}

func TestStore_DeleteBeforeKeepsParked(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			abandoned := parked(t, "exec-2", base)
			if err := abandoned.Abandon("questionnaire expired", base); err != nil {
				t.Fatal(err)
			}
			for _, tr := range []*trace.Trace{
				completed(t, "exec-1", base, trace.OutcomeExecuted),
				abandoned,
				parked(t, "exec-3", base),
				completed(t, "exec-4", base.Add(48*time.Hour), trace.OutcomeExecuted),
			} {
				if err := store.Save(ctx, tr); err != nil {
					t.Fatalf("Save(%s) failed: %v", tr.ExecutionID, err)
				}
			}

			deleted, err := store.DeleteBefore(ctx, base.Add(24*time.Hour))
			if err != nil {
				t.Fatalf("DeleteBefore() failed: %v", err)
			}
			if deleted != 2 {
				t.Errorf("DeleteBefore() = %d, want 2", deleted)
			}

			for id, want := range map[string]bool{"exec-1": false, "exec-2": false, "exec-3": true, "exec-4": true} {
				_, err := store.Get(ctx, id)
				if got := err == nil; got != want {
					t.Errorf("%s present = %v, want %v (err %v)", id, got, want, err)
				}
			}
		})
	}
}

func TestOutcomeOf(t *testing.T) {
	abandoned := parked(t, "a", base)
	if err := abandoned.Abandon("timeout", base); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		trace *trace.Trace
		want  string
	}{
		{"executed", completed(t, "e", base, trace.OutcomeExecuted), "EXECUTED"},
		{"blocked", completed(t, "b", base, trace.OutcomeBlocked), "BLOCKED"},
		{"abandoned", abandoned, "ABANDONED"},
		{"parked", parked(t, "p", base), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OutcomeOf(tt.trace); got != tt.want {
				t.Errorf("OutcomeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	cfg := DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "traces.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, completed(t, "exec-1", base, trace.OutcomeExecuted)); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	store, err = NewSQLiteStore(cfg, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}
	if _, err := store.Get(ctx, "exec-1"); err != nil {
		t.Errorf("Get() after reopen failed: %v", err)
	}
}
