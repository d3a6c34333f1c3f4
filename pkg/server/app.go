package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"armouriq/armour/pkg/action"
	"armouriq/armour/pkg/approval"
	"armouriq/armour/pkg/archive"
	"armouriq/armour/pkg/archive/retention"
	"armouriq/armour/pkg/config"
	"armouriq/armour/pkg/executor"
	"armouriq/armour/pkg/intent"
	"armouriq/armour/pkg/limits/ratelimit"
	"armouriq/armour/pkg/policy/engine"
	"armouriq/armour/pkg/policy/engine/source"
	"armouriq/armour/pkg/questionnaire"
	"armouriq/armour/pkg/reasoning"
	"armouriq/armour/pkg/security/auth"
	"armouriq/armour/pkg/telemetry/health"
	"armouriq/armour/pkg/telemetry/logging"
	"armouriq/armour/pkg/telemetry/metrics"
	"armouriq/armour/pkg/telemetry/tracing"
	"armouriq/armour/pkg/trace"
)

// JobSweepPending is the scheduler job that abandons expired parked traces.
const JobSweepPending = "sweep-pending"

// App is the assembled governance runtime: every component built from one
// configuration. It is shared by the HTTP server and the CLI.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Registry     *action.Registry
	Signer       *intent.Signer
	Engine       *engine.InterpreterEngine
	Archive      archive.Store
	Approvals    approval.Store
	Orchestrator *trace.Orchestrator
	Metrics      *metrics.Collector
	Tracer       *tracing.Tracer
	Health       *health.Checker
	Keys         *auth.APIKeyValidator
	Limiter      *ratelimit.Limiter
	Scheduler    *retention.Scheduler
	Pruner       *retention.Pruner
	Version      health.VersionInfo
}

type options struct {
	logger    *slog.Logger
	logOutput io.Writer
	reasoner  reasoning.Reasoner
	executor  executor.Executor
	answers   trace.AnswerSource
	version   health.VersionInfo
}

// Option customises Build.
type Option func(*options)

// WithLogger uses logger instead of one built from the logging config.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLogOutput sets where the configured logger writes. Default: stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithReasoner replaces the keyword reasoner.
func WithReasoner(r reasoning.Reasoner) Option {
	return func(o *options) { o.reasoner = r }
}

// WithExecutor replaces the simulated executor.
func WithExecutor(e executor.Executor) Option {
	return func(o *options) { o.executor = e }
}

// WithAnswerSource makes traces block for answers instead of parking.
func WithAnswerSource(src trace.AnswerSource) Option {
	return func(o *options) { o.answers = src }
}

// WithVersion sets the build information reported by the API and tracer.
func WithVersion(v health.VersionInfo) Option {
	return func(o *options) { o.version = v }
}

// Build assembles the runtime from cfg. The signing secret must be set. On
// error every component opened so far is closed.
func Build(cfg *config.Config, opts ...Option) (app *App, err error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := config.RequireSigningSecret(cfg); err != nil {
		return nil, err
	}

	o := &options{logOutput: os.Stderr, version: health.NewVersionInfo("dev", "", "")}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg, Version: o.version}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Logger = o.logger
	if a.Logger == nil {
		if a.Logger, err = logging.New(logging.FromConfig(cfg.Telemetry.Logging, o.logOutput)); err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}
	logger := a.Logger

	if a.Tracer, err = tracing.New(&cfg.Telemetry.Tracing, o.version.Version); err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	if cfg.Telemetry.Metrics.IsEnabled() {
		a.Metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
	}

	a.Registry = action.DefaultRegistry()
	if a.Signer, err = intent.NewSigner([]byte(cfg.Signing.Secret), intent.WithTTL(cfg.Signing.TTL)); err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	if a.Engine, err = buildEngine(cfg, a.Signer, logger); err != nil {
		return nil, err
	}
	if a.Metrics != nil {
		a.Engine.SetMetrics(a.Metrics)
		a.Metrics.RecordReload(true, len(a.Engine.RuleSet().Rules))
	}

	if a.Archive, err = OpenArchive(cfg, logger); err != nil {
		return nil, err
	}
	if a.Approvals, err = OpenApprovals(cfg); err != nil {
		return nil, err
	}

	reasoner := o.reasoner
	if reasoner == nil {
		reasoner = reasoning.NewKeywordReasoner(logger)
	}
	exec := o.executor
	if exec == nil {
		exec = executor.NewSimulated(a.Signer, logger, executor.WithRetention(2*a.Signer.TTL()))
	}

	builder := intent.NewBuilder(a.Registry, questionnaire.NewCoordinator(a.Registry), a.Signer, intent.WithLogger(logger))
	deps := trace.Dependencies{
		Reasoner:  reasoner,
		Registry:  a.Registry,
		Builder:   builder,
		Engine:    a.Engine,
		Executor:  exec,
		Archive:   a.Archive,
		Approvals: a.Approvals,
		Answers:   o.answers,
		Tracer:    a.Tracer,
	}
	if a.Metrics != nil {
		deps.Metrics = a.Metrics
	}
	a.Orchestrator, err = trace.NewOrchestrator(&trace.Config{
		MaxRounds:           cfg.Orchestrator.MaxRounds,
		PendingTTL:          cfg.Orchestrator.PendingTTL,
		CollaboratorTimeout: cfg.Orchestrator.CollaboratorTimeout,
	}, deps, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	if a.Metrics != nil {
		a.Metrics.ObservePending(a.Orchestrator.PendingCount)
	}

	a.Pruner = retention.NewPruner(a.Archive, &retention.Config{
		RetentionDays:      cfg.Archive.Retention.Days,
		PruneSchedule:      cfg.Archive.Retention.PruneSchedule,
		ExportBeforeDelete: cfg.Archive.Retention.ExportBeforeDelete,
		ExportPath:         cfg.Archive.Retention.ExportPath,
		MaxRecords:         cfg.Archive.Retention.MaxRecords,
	}, logger)

	policyVersion := func() string { return a.Engine.RuleSet().Version }
	a.Health = health.New(2 * time.Second).WithPolicyVersion(policyVersion)
	a.Health.RegisterCheck("policy", health.PolicyCheck(policyVersion))
	if p, ok := a.Archive.(health.Pinger); ok {
		a.Health.RegisterCheck("archive", health.PingCheck(p))
	}
	a.Health.RegisterAdvisory("pending", health.BacklogCheck(a.Orchestrator.PendingCount, maxPendingTraces))

	if cfg.Auth.Enabled {
		a.Keys = buildKeys(cfg.Auth)
	}
	if rl := cfg.Server.RateLimit; rl.RequestsPerSecond > 0 || rl.MaxConcurrent > 0 {
		a.Limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
			MaxConcurrent:     rl.MaxConcurrent,
		})
	}

	logger.Info("governance runtime assembled",
		"policy_path", cfg.Policy.Path,
		"rules", len(a.Engine.RuleSet().Rules),
		"rule_set_version", a.Engine.RuleSet().Version,
		"archive", cfg.Archive.Backend,
		"approvals", cfg.Approvals.IsEnabled(),
		"metrics", a.Metrics != nil,
		"tracing", a.Tracer.Enabled(),
		"auth", a.Keys != nil,
		"rate_limit", a.Limiter != nil,
	)
	return a, nil
}

// buildKeys turns validated key configs into a validator. Roles were
// checked by config.Validate.
func buildKeys(cfg config.AuthConfig) *auth.APIKeyValidator {
	keys := make([]*auth.APIKeyInfo, 0, len(cfg.Keys))
	for _, k := range cfg.Keys {
		roles := make([]auth.Role, 0, len(k.Roles))
		for _, r := range k.Roles {
			if role, err := auth.ParseRole(r); err == nil {
				roles = append(roles, role)
			}
		}
		keys = append(keys, &auth.APIKeyInfo{
			Key:       k.Key,
			Principal: k.Principal,
			Roles:     roles,
			Enabled:   !k.Disabled,
		})
	}
	return auth.NewAPIKeyValidator(keys)
}

// maxPendingTraces is the parked-trace backlog above which readiness fails.
const maxPendingTraces = 10000

func buildEngine(cfg *config.Config, signer *intent.Signer, logger *slog.Logger) (*engine.InterpreterEngine, error) {
	src := source.NewFileSource(cfg.Policy.Path, logger).WithWatcherConfig(&source.FileWatcherConfig{
		DebounceInterval: cfg.Policy.DebounceInterval,
		SkipHidden:       true,
	})
	engCfg := engine.DefaultEngineConfig()
	engCfg.EvaluationTimeout = cfg.Policy.EvaluationTimeout
	engCfg.MaxRules = cfg.Policy.MaxRules
	engCfg.WatchPolicies = cfg.Policy.Watch

	eng, err := engine.NewInterpreterEngine(engCfg, src, signer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	return eng, nil
}

// OpenArchive opens the configured trace archive.
func OpenArchive(cfg *config.Config, logger *slog.Logger) (archive.Store, error) {
	if cfg.Archive.Backend == "memory" {
		return archive.NewMemoryStore(), nil
	}
	sc := cfg.Archive.SQLite
	store, err := archive.NewSQLiteStore(&archive.SQLiteConfig{
		Path:         sc.Path,
		MaxOpenConns: sc.MaxOpenConns,
		MaxIdleConns: sc.MaxIdleConns,
		WALMode:      sc.IsWALMode(),
		BusyTimeout:  sc.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace archive: %w", err)
	}
	return store, nil
}

// OpenApprovals opens the configured approval store. It returns nil when
// approvals are disabled.
func OpenApprovals(cfg *config.Config) (approval.Store, error) {
	ac := cfg.Approvals
	if !ac.IsEnabled() {
		return nil, nil
	}
	if ac.Backend == "memory" {
		return approval.NewMemoryStore(), nil
	}
	store, err := approval.NewSQLiteStore(approval.SQLiteConfig{Path: ac.Path, BusyTimeout: ac.BusyTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open approval store: %w", err)
	}
	return store, nil
}

// StartMaintenance schedules archive pruning and the pending-trace sweep and
// starts the scheduler. It stops when ctx is done.
func (a *App) StartMaintenance(ctx context.Context) error {
	a.Scheduler = retention.NewScheduler(a.Logger)
	if err := a.Scheduler.AddPruner(ctx, a.Pruner); err != nil {
		return err
	}
	if spec := a.Config.Orchestrator.SweepSchedule; spec != "" {
		err := a.Scheduler.Add(ctx, JobSweepPending, spec, func(ctx context.Context) error {
			_, err := a.Orchestrator.SweepExpired(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}
	a.Scheduler.Start(ctx)
	return nil
}

// Close stops background work and releases stores. It is safe to call on a
// partially built App.
func (a *App) Close() error {
	var errs []error
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Engine != nil {
		errs = append(errs, a.Engine.Close())
	}
	if a.Approvals != nil {
		errs = append(errs, a.Approvals.Close())
	}
	if a.Archive != nil {
		errs = append(errs, a.Archive.Close())
	}
	if a.Tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.Tracer.Shutdown(ctx))
		cancel()
	}
	return errors.Join(errs...)
}
