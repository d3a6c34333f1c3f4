package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All errors are collected and returned together.
// The signing secret is not checked here; commands that sign tokens call
// RequireSigningSecret.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validatePolicy(&cfg.Policy)...)
	errs = append(errs, validateSigning(&cfg.Signing)...)
	errs = append(errs, validateOrchestrator(&cfg.Orchestrator)...)
	errs = append(errs, validateArchive(&cfg.Archive)...)
	errs = append(errs, validateApprovals(&cfg.Approvals)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// RequireSigningSecret reports an error when no signing secret was supplied.
func RequireSigningSecret(cfg *Config) error {
	if cfg.Signing.Secret == "" {
		return ValidationError{Errors: []FieldError{{
			Field:   "signing.secret",
			Message: fmt.Sprintf("must be set through %s", SigningSecretEnv),
		}}}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("must be host:port, got %q", cfg.ListenAddress),
		})
	}
	errs = append(errs, positiveDuration("server.read_timeout", cfg.ReadTimeout)...)
	errs = append(errs, positiveDuration("server.write_timeout", cfg.WriteTimeout)...)
	errs = append(errs, positiveDuration("server.idle_timeout", cfg.IdleTimeout)...)
	errs = append(errs, positiveDuration("server.shutdown_timeout", cfg.ShutdownTimeout)...)
	if cfg.MaxBodyBytes <= 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "must be positive"})
	}
	if cfg.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, FieldError{Field: "server.rate_limit.requests_per_second", Message: "cannot be negative"})
	}
	if cfg.RateLimit.Burst < 0 {
		errs = append(errs, FieldError{Field: "server.rate_limit.burst", Message: "cannot be negative"})
	}
	if cfg.RateLimit.MaxConcurrent < 0 {
		errs = append(errs, FieldError{Field: "server.rate_limit.max_concurrent", Message: "cannot be negative"})
	}
	return errs
}

func validatePolicy(cfg *PolicyConfig) []FieldError {
	var errs []FieldError
	if cfg.Path == "" {
		errs = append(errs, FieldError{Field: "policy.path", Message: "is required"})
	}
	errs = append(errs, positiveDuration("policy.debounce_interval", cfg.DebounceInterval)...)
	errs = append(errs, positiveDuration("policy.evaluation_timeout", cfg.EvaluationTimeout)...)
	if cfg.MaxRules <= 0 {
		errs = append(errs, FieldError{Field: "policy.max_rules", Message: "must be positive"})
	}
	return errs
}

func validateSigning(cfg *SigningConfig) []FieldError {
	return positiveDuration("signing.ttl", cfg.TTL)
}

func validateOrchestrator(cfg *OrchestratorConfig) []FieldError {
	var errs []FieldError
	if cfg.MaxRounds < 1 {
		errs = append(errs, FieldError{Field: "orchestrator.max_rounds", Message: "must be at least 1"})
	}
	errs = append(errs, positiveDuration("orchestrator.pending_ttl", cfg.PendingTTL)...)
	errs = append(errs, positiveDuration("orchestrator.collaborator_timeout", cfg.CollaboratorTimeout)...)
	errs = append(errs, cronSchedule("orchestrator.sweep_schedule", cfg.SweepSchedule)...)
	return errs
}

func validateArchive(cfg *ArchiveConfig) []FieldError {
	var errs []FieldError

	errs = append(errs, oneOf("archive.backend", cfg.Backend, "sqlite", "memory")...)
	if cfg.Backend == "sqlite" && cfg.SQLite.Path == "" {
		errs = append(errs, FieldError{Field: "archive.sqlite.path", Message: "is required for the sqlite backend"})
	}
	if cfg.SQLite.MaxOpenConns < 1 {
		errs = append(errs, FieldError{Field: "archive.sqlite.max_open_conns", Message: "must be positive"})
	}
	if cfg.SQLite.MaxIdleConns > cfg.SQLite.MaxOpenConns {
		errs = append(errs, FieldError{Field: "archive.sqlite.max_idle_conns", Message: "cannot exceed max_open_conns"})
	}

	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{Field: "archive.retention.days", Message: "cannot be negative"})
	}
	if cfg.Retention.MaxRecords < 0 {
		errs = append(errs, FieldError{Field: "archive.retention.max_records", Message: "cannot be negative"})
	}
	if cfg.Retention.PruneSchedule != "" {
		errs = append(errs, cronSchedule("archive.retention.prune_schedule", cfg.Retention.PruneSchedule)...)
	}
	return errs
}

func validateApprovals(cfg *ApprovalsConfig) []FieldError {
	var errs []FieldError
	errs = append(errs, oneOf("approvals.backend", cfg.Backend, "sqlite", "memory")...)
	if cfg.Backend == "sqlite" && cfg.Path == "" {
		errs = append(errs, FieldError{Field: "approvals.path", Message: "is required for the sqlite backend"})
	}
	return errs
}

func validateAuth(cfg *AuthConfig) []FieldError {
	var errs []FieldError
	if cfg.Enabled && len(cfg.Keys) == 0 {
		errs = append(errs, FieldError{Field: "auth.keys", Message: "at least one key is required when auth is enabled"})
	}

	seen := make(map[string]bool)
	for i, k := range cfg.Keys {
		field := fmt.Sprintf("auth.keys[%d]", i)
		if k.Principal == "" {
			errs = append(errs, FieldError{Field: field + ".principal", Message: "is required"})
		}
		switch {
		case k.KeyEnv != "" && k.Key == "":
			errs = append(errs, FieldError{Field: field + ".key_env", Message: fmt.Sprintf("environment variable %s is not set", k.KeyEnv)})
		case k.Key == "":
			errs = append(errs, FieldError{Field: field + ".key", Message: "is required"})
		case seen[k.Key]:
			errs = append(errs, FieldError{Field: field + ".key", Message: "duplicates another key"})
		}
		seen[k.Key] = true
		if len(k.Roles) == 0 {
			errs = append(errs, FieldError{Field: field + ".roles", Message: "at least one role is required"})
		}
		for j, r := range k.Roles {
			errs = append(errs, oneOf(fmt.Sprintf("%s.roles[%d]", field, j), r, "execute", "read", "approve")...)
		}
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	errs = append(errs, oneOf("telemetry.logging.level", strings.ToLower(cfg.Logging.Level), "debug", "info", "warn", "warning", "error")...)
	errs = append(errs, oneOf("telemetry.logging.format", strings.ToLower(cfg.Logging.Format), "json", "text", "console")...)

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "must start with /"})
	}
	for i := 1; i < len(cfg.Metrics.TraceDurationBuckets); i++ {
		if cfg.Metrics.TraceDurationBuckets[i] <= cfg.Metrics.TraceDurationBuckets[i-1] {
			errs = append(errs, FieldError{Field: "telemetry.metrics.trace_duration_buckets", Message: "must be strictly increasing"})
			break
		}
	}

	errs = append(errs, oneOf("telemetry.tracing.sampler", cfg.Tracing.Sampler, "always", "never", "ratio", "parent_ratio")...)
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0 and 1"})
	}
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "is required when tracing is enabled"})
	}
	return errs
}

func positiveDuration(field string, d time.Duration) []FieldError {
	if d <= 0 {
		return []FieldError{{Field: field, Message: fmt.Sprintf("must be positive, got %v", d)}}
	}
	return nil
}

func oneOf(field, got string, allowed ...string) []FieldError {
	for _, a := range allowed {
		if got == a {
			return nil
		}
	}
	return []FieldError{{
		Field:   field,
		Message: fmt.Sprintf("must be one of %s, got %q", strings.Join(allowed, ", "), got),
	}}
}

func cronSchedule(field, spec string) []FieldError {
	if _, err := cron.ParseStandard(spec); err != nil {
		return []FieldError{{Field: field, Message: fmt.Sprintf("invalid cron schedule: %v", err)}}
	}
	return nil
}
