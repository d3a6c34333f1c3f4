package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"armouriq/armour/pkg/archive"
	"armouriq/armour/pkg/trace"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is the number of days to keep terminal traces.
	// 0 means keep them forever.
	RetentionDays int

	// PruneSchedule is a cron expression for scheduling pruning.
	// Example: "0 3 * * *" (daily at 3 AM)
	PruneSchedule string

	// ExportBeforeDelete writes traces to a JSON file before deleting them.
	ExportBeforeDelete bool

	// ExportPath is the directory export files are written to.
	ExportPath string

	// MaxRecords is the maximum number of terminal traces to keep.
	// 0 means unlimited.
	MaxRecords int64
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays:      90,
		PruneSchedule:      "0 3 * * *",
		ExportBeforeDelete: false,
		ExportPath:         "data/exports/",
		MaxRecords:         0,
	}
}

// Pruner enforces retention on archived traces. Parked traces are never
// pruned; only COMPLETED and ABANDONED ones.
type Pruner struct {
	store  archive.Store
	config *Config
	clock  func() time.Time
	logger *slog.Logger
}

// NewPruner creates a new retention pruner.
func NewPruner(store archive.Store, config *Config, logger *slog.Logger) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		store:  store,
		config: config,
		clock:  time.Now,
		logger: logger.With("component", "archive.retention"),
	}
}

// Prune deletes terminal traces older than the retention period, then the
// oldest ones beyond MaxRecords. It returns the number deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var total int64

	if p.config.RetentionDays > 0 {
		deleted, err := p.pruneByAge(ctx)
		if err != nil {
			return total, fmt.Errorf("prune by age failed: %w", err)
		}
		total += deleted
	}

	if p.config.MaxRecords > 0 {
		deleted, err := p.pruneByCount(ctx)
		if err != nil {
			return total, fmt.Errorf("prune by count failed: %w", err)
		}
		total += deleted
	}

	if total > 0 {
		p.logger.Info("trace pruning completed",
			"total_deleted", total,
			"retention_days", p.config.RetentionDays,
			"max_records", p.config.MaxRecords,
		)
	} else {
		p.logger.Debug("no traces pruned")
	}
	return total, nil
}

func (p *Pruner) pruneByAge(ctx context.Context) (int64, error) {
	cutoff := p.clock().AddDate(0, 0, -p.config.RetentionDays)

	if p.config.ExportBeforeDelete {
		old, err := p.terminal(ctx, &archive.Query{EndTime: &cutoff})
		if err != nil {
			return 0, err
		}
		if err := p.export(old, "age"); err != nil {
			return 0, err
		}
	}
	return p.store.DeleteBefore(ctx, cutoff)
}

func (p *Pruner) pruneByCount(ctx context.Context) (int64, error) {
	all, err := p.terminal(ctx, &archive.Query{})
	if err != nil {
		return 0, err
	}

	excess := len(all) - int(p.config.MaxRecords)
	if excess <= 0 {
		return 0, nil
	}

	// List is ordered oldest first; delete up to and including the last
	// excess trace.
	victims := all[:excess]
	cutoff := victims[len(victims)-1].UpdatedAt.Add(time.Nanosecond)

	p.logger.Info("trace count exceeds limit, pruning oldest",
		"current_count", len(all),
		"max_records", p.config.MaxRecords,
		"to_delete", excess,
	)

	if p.config.ExportBeforeDelete {
		if err := p.export(victims, "count"); err != nil {
			return 0, err
		}
	}
	return p.store.DeleteBefore(ctx, cutoff)
}

// terminal lists the COMPLETED and ABANDONED traces matching q.
func (p *Pruner) terminal(ctx context.Context, q *archive.Query) ([]*trace.Trace, error) {
	all, err := p.store.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	out := all[:0]
	for _, t := range all {
		if t.IsTerminal() {
			out = append(out, t)
		}
	}
	return out, nil
}

// export writes traces as a JSON array before they are deleted.
func (p *Pruner) export(traces []*trace.Trace, kind string) error {
	if len(traces) == 0 {
		return nil
	}
	if err := os.MkdirAll(p.config.ExportPath, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(p.config.ExportPath,
		fmt.Sprintf("traces-%s-%s.json", kind, p.clock().UTC().Format("2006-01-02-150405")))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(traces); err != nil {
		return fmt.Errorf("failed to export traces: %w", err)
	}

	p.logger.Info("traces exported before deletion", "file", path, "count", len(traces))
	return nil
}
