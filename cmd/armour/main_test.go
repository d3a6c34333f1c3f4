package main

import (
	"bytes"
	"strings"
	"testing"

	"armouriq/armour/pkg/config"
)

// executeCommand runs the root command with args and returns what it wrote.
// Flags keep their values between runs, so tests pass every flag they rely on.
func executeCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetIn(strings.NewReader(stdin))
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
	})
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// useTestConfig installs an in-memory configuration for commands that build
// the runtime.
func useTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Signing.Secret = "cli-test-secret"
	cfg.Policy.Path = "../../policies"
	cfg.Archive.Backend = "memory"
	cfg.Approvals.Backend = "memory"
	cfg.Telemetry.Logging.Level = "error"
	config.SetConfig(cfg)
	t.Cleanup(func() { config.SetConfig(nil) })
	return cfg
}
