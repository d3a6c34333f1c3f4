package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armouriq/armour/pkg/policy/ast"
	"armouriq/armour/pkg/policy/engine"
)

const allowAll = "policies:\n  - {name: allow, tool: t, action: ALLOW}\n"

func TestFileSource_LoadRuleSet(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(allowAll), 0o600))

	set, err := NewFileSource(dir, nil).LoadRuleSet(context.Background())
	require.NoError(t, err)
	require.Len(t, set.Rules, 1)
	assert.Equal(t, "allow", set.Rules[0].Name)
}

func TestFileSource_LoadRuleSet_InvalidRejectsAll(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(allowAll), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("policies:\n  - {name: bad}\n"), 0o600))

	_, err := NewFileSource(dir, nil).LoadRuleSet(context.Background())
	assert.Error(t, err)
}

func TestFileSource_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.yaml")
	require.NoError(t, os.WriteFile(path, []byte(allowAll), 0o600))

	cfg := DefaultFileWatcherConfig()
	cfg.DebounceInterval = 20 * time.Millisecond
	src := NewFileSource(dir, nil).WithWatcherConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := src.Watch(ctx)
	require.NoError(t, err)

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(allowAll+"  - {name: second, tool: t, action: ALLOW}\n"), 0o600))

	select {
	case ev := <-events:
		require.NoError(t, ev.Error)
		assert.Equal(t, path, ev.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("no policy event received")
	}

	cancel()
	for range events {
	}
}

func TestMemorySource_WatchNotifiesOnSet(t *testing.T) {
	src := NewMemorySource(&ast.PolicyRule{Name: "a", Tool: "t", Action: ast.ActionAllow, Condition: ast.AllOf()})

	ctx, cancel := context.WithCancel(context.Background())
	events, err := src.Watch(ctx)
	require.NoError(t, err)

	src.SetRuleSet(&ast.RuleSet{Version: "v2"})
	select {
	case ev := <-events:
		assert.Equal(t, engine.PolicyEventModified, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	set, err := src.LoadRuleSet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v2", set.Version)

	cancel()
	_, open := <-events
	assert.False(t, open)
}

func TestDebouncer_CoalescesBursts(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	calls := make(chan int, 10)
	for i := 0; i < 5; i++ {
		n := i
		d.Trigger(func() { calls <- n })
	}

	select {
	case n := <-calls:
		assert.Equal(t, 4, n)
	case <-time.After(time.Second):
		t.Fatal("debounced callback never ran")
	}
	select {
	case n := <-calls:
		t.Fatalf("unexpected extra callback %d", n)
	case <-time.After(60 * time.Millisecond):
	}
}
