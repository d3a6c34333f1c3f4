package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ARMOUR_"

// SigningSecretEnv is the only place the signing secret is read from.
const SigningSecretEnv = "ARMOUR_SIGNING_SECRET"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values and validates the configuration. Environment
// variables are not consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	cfg, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides named ARMOUR_SECTION_FIELD (for example
// ARMOUR_SERVER_LISTEN_ADDRESS). An empty path loads defaults only.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = NewDefaultConfig()
	} else {
		var err error
		if cfg, err = parseFile(path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func parseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)
	resolveKeyEnv(&cfg)
	return &cfg, nil
}

// resolveKeyEnv reads API keys named by key_env.
func resolveKeyEnv(cfg *Config) {
	for i := range cfg.Auth.Keys {
		if name := cfg.Auth.Keys[i].KeyEnv; name != "" {
			cfg.Auth.Keys[i].Key = os.Getenv(name)
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envFloat("SERVER_RATE_LIMIT_REQUESTS_PER_SECOND", &cfg.Server.RateLimit.RequestsPerSecond)
	envInt("SERVER_RATE_LIMIT_BURST", &cfg.Server.RateLimit.Burst)
	envInt("SERVER_RATE_LIMIT_MAX_CONCURRENT", &cfg.Server.RateLimit.MaxConcurrent)

	// Policy overrides
	envString("POLICY_PATH", &cfg.Policy.Path)
	envBool("POLICY_WATCH", &cfg.Policy.Watch)
	envDuration("POLICY_EVALUATION_TIMEOUT", &cfg.Policy.EvaluationTimeout)

	// Signing overrides
	if val := os.Getenv(SigningSecretEnv); val != "" {
		cfg.Signing.Secret = val
	}
	envDuration("SIGNING_TTL", &cfg.Signing.TTL)

	// Orchestrator overrides
	envInt("ORCHESTRATOR_MAX_ROUNDS", &cfg.Orchestrator.MaxRounds)
	envDuration("ORCHESTRATOR_PENDING_TTL", &cfg.Orchestrator.PendingTTL)
	envDuration("ORCHESTRATOR_COLLABORATOR_TIMEOUT", &cfg.Orchestrator.CollaboratorTimeout)

	// Archive overrides
	envString("ARCHIVE_BACKEND", &cfg.Archive.Backend)
	envString("ARCHIVE_SQLITE_PATH", &cfg.Archive.SQLite.Path)
	envInt("ARCHIVE_RETENTION_DAYS", &cfg.Archive.Retention.Days)

	// Approvals overrides
	envBoolPtr("APPROVALS_ENABLED", &cfg.Approvals.Enabled)
	envString("APPROVALS_BACKEND", &cfg.Approvals.Backend)
	envString("APPROVALS_PATH", &cfg.Approvals.Path)

	// Auth overrides
	envBool("AUTH_ENABLED", &cfg.Auth.Enabled)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBoolPtr("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
}

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envBoolPtr(name string, dst **bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = &b
		}
	}
}
