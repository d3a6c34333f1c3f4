package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobPrune is the name AddPruner schedules the pruner under.
const JobPrune = "prune"

// Job is a unit of scheduled maintenance.
type Job func(ctx context.Context) error

// Scheduler runs maintenance jobs (trace pruning, sweeping expired
// questionnaires) on cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
	entries map[string]cron.EntryID
}

// NewScheduler creates a new scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger.With("component", "archive.scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Add schedules job under name. spec is a standard five-field cron
// expression or a descriptor such as "@every 1m". Jobs added after Start run
// on their schedule as well.
func (s *Scheduler) Add(ctx context.Context, name, spec string, job Job) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q for %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("job %q already scheduled", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(ctx, name, job) })
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.entries[name] = id
	s.logger.Info("job scheduled", "job", name, "schedule", spec)
	return nil
}

// AddPruner schedules p on its configured PruneSchedule. An empty schedule
// disables automatic pruning.
func (s *Scheduler) AddPruner(ctx context.Context, p *Pruner) error {
	if p.config.PruneSchedule == "" {
		s.logger.Info("prune schedule not configured, skipping")
		return nil
	}
	return s.Add(ctx, JobPrune, p.config.PruneSchedule, func(ctx context.Context) error {
		_, err := p.Prune(ctx)
		return err
	})
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) {
	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("scheduled job failed", "job", name, "error", err)
		return
	}
	s.logger.Debug("scheduled job completed", "job", name, "duration_ms", time.Since(start).Milliseconds())
}

// Start starts the scheduler. It stops when ctx is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", "jobs", len(s.entries))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next run time of the named job, or nil if it is not
// scheduled or the scheduler is not running.
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[name]
	if !ok {
		return nil
	}
	next := s.cron.Entry(id).Next
	if next.IsZero() {
		return nil
	}
	return &next
}
