// Package config provides configuration management for the governance service.
//
// Configuration is loaded from a YAML file, completed with defaults,
// overridden from the environment and validated:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("armour.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention ARMOUR_SECTION_FIELD:
//
//   - ARMOUR_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - ARMOUR_POLICY_PATH overrides policy.path
//   - ARMOUR_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// The HMAC signing secret has no file key at all. It is read only from
// ARMOUR_SIGNING_SECRET, and commands that issue tokens refuse to start
// without it (RequireSigningSecret).
//
// # Configuration Precedence
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Singleton
//
// The CLI initialises a process-wide instance once:
//
//	if err := config.Initialize(path); err != nil {
//	    return err
//	}
//	cfg := config.GetConfig()
//
// Tests should construct Config values directly.
//
// # Example Configuration
//
//	server:
//	  listen_address: "127.0.0.1:8080"
//
//	policy:
//	  path: "./policies"
//	  watch: true
//
//	orchestrator:
//	  max_rounds: 3
//	  pending_ttl: 30m
//
//	archive:
//	  backend: sqlite
//	  sqlite:
//	    path: data/traces.db
//	  retention:
//	    days: 90
//
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
package config
