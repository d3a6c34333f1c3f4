package config

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// current is the process-wide configuration. Readers never block; a reload
// publishes a new *Config and never mutates the old one.
var (
	current  atomic.Pointer[Config]
	initOnce sync.Once
	initErr  error
)

// Initialize loads path (with ARMOUR_* overrides) into the process-wide
// configuration. Only the first call loads; later calls return its error.
func Initialize(path string) error {
	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}
		current.Store(cfg)
	})
	return initErr
}

// GetConfig returns the process-wide configuration, or nil before
// Initialize succeeds.
func GetConfig() *Config {
	return current.Load()
}

// SetConfig publishes cfg as the process-wide configuration. Tests use it to
// bypass loading.
func SetConfig(cfg *Config) {
	current.Store(cfg)
}

// ReloadConfig loads path and publishes it. A file that fails to load or
// validate leaves the running configuration untouched.
func ReloadConfig(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	current.Store(cfg)
	return nil
}

// MustGetConfig is GetConfig for callers that run after startup.
func MustGetConfig() *Config {
	cfg := current.Load()
	if cfg == nil {
		panic("configuration not initialized: call Initialize first")
	}
	return cfg
}
