package config

import "time"

// Config is the root configuration structure for the governance service.
type Config struct {
	// Server contains HTTP server configuration.
	Server ServerConfig `yaml:"server"`

	// Policy contains configuration for the policy engine and its source.
	Policy PolicyConfig `yaml:"policy"`

	// Signing contains intent token signing configuration. The secret itself
	// is never read from the file.
	Signing SigningConfig `yaml:"signing"`

	// Orchestrator contains trace orchestration and questionnaire settings.
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Archive contains configuration for trace storage and retention.
	Archive ArchiveConfig `yaml:"archive"`

	// Approvals contains configuration for the human approval queue.
	Approvals ApprovalsConfig `yaml:"approvals"`

	// Auth contains API key authentication configuration.
	Auth AuthConfig `yaml:"auth"`

	// Telemetry contains configuration for logging, metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. It must cover a full trace, including the reasoner.
	// Default: 60s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes limits request bodies.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// RateLimit throttles the pipeline and approval endpoints.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig throttles callers of POST /api/execute and
// POST /api/approvals/{id}. Zero values disable the matching limit.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per client. Clients are keyed
	// by authenticated principal, or by remote IP when auth is off.
	// Default: 0 (unlimited)
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the number of requests a client may make at once.
	// Default: twice RequestsPerSecond
	Burst int `yaml:"burst"`

	// MaxConcurrent caps in-flight pipeline requests across all clients.
	// Default: 0 (unlimited)
	MaxConcurrent int `yaml:"max_concurrent"`
}

// PolicyConfig contains configuration for the policy engine.
type PolicyConfig struct {
	// Path is a policy file or a directory of .yaml/.yml files.
	// Default: "./policies"
	Path string `yaml:"path"`

	// Watch reloads the rule snapshot when the files change.
	// Default: false
	Watch bool `yaml:"watch"`

	// DebounceInterval is the quiet period before a reload.
	// Default: 100ms
	DebounceInterval time.Duration `yaml:"debounce_interval"`

	// EvaluationTimeout bounds a single evaluation.
	// Default: 100ms
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`

	// MaxRules is the maximum number of rules a snapshot may hold.
	// Default: 1000
	MaxRules int `yaml:"max_rules"`
}

// SigningConfig contains intent token signing configuration.
type SigningConfig struct {
	// Secret is the HMAC key. It is only ever set from ARMOUR_SIGNING_SECRET.
	Secret string `yaml:"-"`

	// TTL is how long a signed token stays valid.
	// Default: 10m
	TTL time.Duration `yaml:"ttl"`
}

// OrchestratorConfig contains trace orchestration settings.
type OrchestratorConfig struct {
	// MaxRounds is the number of questionnaire rounds before a trace is
	// blocked for missing fields.
	// Default: 3
	MaxRounds int `yaml:"max_rounds"`

	// PendingTTL is how long a trace may wait for answers.
	// Default: 30m
	PendingTTL time.Duration `yaml:"pending_ttl"`

	// CollaboratorTimeout bounds calls to the reasoner and the executor.
	// Default: 30s
	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`

	// SweepSchedule is the cron schedule for abandoning expired traces.
	// Default: "@every 1m"
	SweepSchedule string `yaml:"sweep_schedule"`
}

// ArchiveConfig contains configuration for trace storage.
type ArchiveConfig struct {
	// Backend selects the store: "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Retention contains pruning configuration.
	Retention RetentionConfig `yaml:"retention"`
}

// SQLiteConfig contains SQLite storage configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/traces.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables Write-Ahead Logging.
	// Default: true
	WALMode *bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RetentionConfig contains trace retention configuration.
type RetentionConfig struct {
	// Days is the number of days to keep finished traces. 0 keeps them forever.
	// Default: 90
	Days int `yaml:"days"`

	// PruneSchedule is the cron schedule for pruning.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`

	// ExportBeforeDelete writes pruned traces to JSON first.
	// Default: false
	ExportBeforeDelete bool `yaml:"export_before_delete"`

	// ExportPath is the export directory.
	// Default: "data/exports/"
	ExportPath string `yaml:"export_path"`

	// MaxRecords caps the number of finished traces kept. 0 is unlimited.
	// Default: 0
	MaxRecords int64 `yaml:"max_records"`
}

// ApprovalsConfig contains configuration for the approval queue.
type ApprovalsConfig struct {
	// Enabled turns on the queue. When disabled, REQUIRES_APPROVAL outcomes
	// cannot be queued and traces are blocked instead.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Backend selects the store: "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Path is the SQLite database file path.
	// Default: "data/approvals.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// AuthConfig contains API key authentication configuration. Health,
// readiness, version and metrics endpoints are never authenticated.
type AuthConfig struct {
	// Enabled requires an API key on every other endpoint.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Keys lists the accepted API keys.
	Keys []APIKeyConfig `yaml:"keys"`
}

// APIKeyConfig describes one API key.
type APIKeyConfig struct {
	// Principal identifies the caller. It is recorded as the approver when
	// the key resolves an approval.
	Principal string `yaml:"principal"`

	// Key is the key itself. Prefer KeyEnv so keys stay out of files.
	Key string `yaml:"key"`

	// KeyEnv names an environment variable holding the key. It takes
	// precedence over Key.
	KeyEnv string `yaml:"key_env"`

	// Roles granted to the key: "execute", "read" and "approve".
	Roles []string `yaml:"roles"`

	// Disabled rejects the key without removing it.
	Disabled bool `yaml:"disabled"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// Redact masks signatures, secrets and PII in log fields.
	// Default: true
	Redact *bool `yaml:"redact"`

	// RedactPatterns contains additional redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled *bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "armour"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "governance"
	Subsystem string `yaml:"subsystem"`

	// TraceDurationBuckets defines histogram buckets for trace duration (seconds).
	// Default: [0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30]
	TraceDurationBuckets []float64 `yaml:"trace_duration_buckets"`
}

// IsEnabled reports whether metrics are enabled.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio", "parent_ratio"
	// Default: "parent_ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "armour"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS to the collector.
	// Default: true
	Insecure *bool `yaml:"insecure"`

	// ExportTimeout is the timeout for span exports.
	// Default: 10s
	ExportTimeout time.Duration `yaml:"export_timeout"`
}

// IsEnabled reports whether the approval queue is enabled.
func (a ApprovalsConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// IsWALMode reports whether WAL journaling is enabled.
func (s SQLiteConfig) IsWALMode() bool {
	return s.WALMode == nil || *s.WALMode
}

// IsRedacted reports whether log redaction is enabled.
func (l LoggingConfig) IsRedacted() bool {
	return l.Redact == nil || *l.Redact
}

// IsInsecure reports whether the collector connection skips TLS.
func (t TracingConfig) IsInsecure() bool {
	return t.Insecure == nil || *t.Insecure
}
