package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxBodyBytes    = int64(1048576) // 1MB

	// Policy defaults
	DefaultPolicyPath              = "./policies"
	DefaultPolicyDebounceInterval  = 100 * time.Millisecond
	DefaultPolicyEvaluationTimeout = 100 * time.Millisecond
	DefaultPolicyMaxRules          = 1000

	// Signing defaults
	DefaultSigningTTL = 10 * time.Minute

	// Orchestrator defaults
	DefaultMaxRounds           = 3
	DefaultPendingTTL          = 30 * time.Minute
	DefaultCollaboratorTimeout = 30 * time.Second
	DefaultSweepSchedule       = "@every 1m"

	// Archive defaults
	DefaultArchiveBackend        = "sqlite"
	DefaultArchiveSQLitePath     = "data/traces.db"
	DefaultSQLiteMaxOpenConns    = 10
	DefaultSQLiteMaxIdleConns    = 5
	DefaultSQLiteBusyTimeout     = 5 * time.Second
	DefaultRetentionDays         = 90
	DefaultRetentionSchedule     = "0 3 * * *"
	DefaultRetentionExportPath   = "data/exports/"
	DefaultRetentionMaxRecords   = int64(0)
	DefaultApprovalsBackend      = "sqlite"
	DefaultApprovalsPath         = "data/approvals.db"
	DefaultApprovalsBusyTimeout  = 5 * time.Second

	// Telemetry defaults
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "json"
	DefaultMetricsPath          = "/metrics"
	DefaultMetricsNamespace     = "armour"
	DefaultMetricsSubsystem     = "governance"
	DefaultTracingSampler       = "parent_ratio"
	DefaultTracingSampleRatio   = 1.0
	DefaultTracingEndpoint      = "localhost:4317"
	DefaultTracingServiceName   = "armour"
	DefaultTracingExportTimeout = 10 * time.Second
)

// DefaultTraceDurationBuckets covers in-process traces (milliseconds) up to
// ones that wait on a slow reasoner.
var DefaultTraceDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30}

// ApplyDefaults fills every unset field of cfg with its default value.
// Boolean options whose default is true are pointers; nil means default.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// Policy defaults
	if cfg.Policy.Path == "" {
		cfg.Policy.Path = DefaultPolicyPath
	}
	if cfg.Policy.DebounceInterval == 0 {
		cfg.Policy.DebounceInterval = DefaultPolicyDebounceInterval
	}
	if cfg.Policy.EvaluationTimeout == 0 {
		cfg.Policy.EvaluationTimeout = DefaultPolicyEvaluationTimeout
	}
	if cfg.Policy.MaxRules == 0 {
		cfg.Policy.MaxRules = DefaultPolicyMaxRules
	}

	// Signing defaults
	if cfg.Signing.TTL == 0 {
		cfg.Signing.TTL = DefaultSigningTTL
	}

	// Orchestrator defaults
	if cfg.Orchestrator.MaxRounds == 0 {
		cfg.Orchestrator.MaxRounds = DefaultMaxRounds
	}
	if cfg.Orchestrator.PendingTTL == 0 {
		cfg.Orchestrator.PendingTTL = DefaultPendingTTL
	}
	if cfg.Orchestrator.CollaboratorTimeout == 0 {
		cfg.Orchestrator.CollaboratorTimeout = DefaultCollaboratorTimeout
	}
	if cfg.Orchestrator.SweepSchedule == "" {
		cfg.Orchestrator.SweepSchedule = DefaultSweepSchedule
	}

	// Archive defaults
	if cfg.Archive.Backend == "" {
		cfg.Archive.Backend = DefaultArchiveBackend
	}
	if cfg.Archive.SQLite.Path == "" {
		cfg.Archive.SQLite.Path = DefaultArchiveSQLitePath
	}
	if cfg.Archive.SQLite.MaxOpenConns == 0 {
		cfg.Archive.SQLite.MaxOpenConns = DefaultSQLiteMaxOpenConns
	}
	if cfg.Archive.SQLite.MaxIdleConns == 0 {
		cfg.Archive.SQLite.MaxIdleConns = DefaultSQLiteMaxIdleConns
	}
	if cfg.Archive.SQLite.BusyTimeout == 0 {
		cfg.Archive.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}

	// Retention defaults
	if cfg.Archive.Retention.Days == 0 {
		cfg.Archive.Retention.Days = DefaultRetentionDays
	}
	if cfg.Archive.Retention.PruneSchedule == "" {
		cfg.Archive.Retention.PruneSchedule = DefaultRetentionSchedule
	}
	if cfg.Archive.Retention.ExportPath == "" {
		cfg.Archive.Retention.ExportPath = DefaultRetentionExportPath
	}

	// Approvals defaults
	if cfg.Approvals.Backend == "" {
		cfg.Approvals.Backend = DefaultApprovalsBackend
	}
	if cfg.Approvals.Path == "" {
		cfg.Approvals.Path = DefaultApprovalsPath
	}
	if cfg.Approvals.BusyTimeout == 0 {
		cfg.Approvals.BusyTimeout = DefaultApprovalsBusyTimeout
	}

	// Logging defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}

	// Metrics defaults
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(cfg.Telemetry.Metrics.TraceDurationBuckets) == 0 {
		cfg.Telemetry.Metrics.TraceDurationBuckets = append([]float64(nil), DefaultTraceDurationBuckets...)
	}

	// Tracing defaults
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Tracing.ExportTimeout == 0 {
		cfg.Telemetry.Tracing.ExportTimeout = DefaultTracingExportTimeout
	}
}

// NewDefaultConfig returns a configuration with every default applied.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
