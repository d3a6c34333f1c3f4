package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"armouriq/armour/pkg/cli"
	"armouriq/armour/pkg/config"
	"armouriq/armour/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "armour",
	Short: "Armour - intent governance for agent actions",
	Long: `Armour governs the actions an agent takes on a user's behalf.

Each request goes through a fixed pipeline:
  - Reasoning turns the request into an action and slot values
  - A questionnaire collects the required fields that are missing
  - An HMAC-signed intent token freezes what was agreed
  - Policy rule trees decide EXECUTED, BLOCKED or REQUIRES_APPROVAL
  - The outcome and every step before it are archived as a trace

The signing secret is read from ARMOUR_SIGNING_SECRET; any other setting can
be overridden with ARMOUR_<SECTION>_<FIELD> environment variables.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults only when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig returns the process configuration, loading it on first use.
func loadConfig() (*config.Config, error) {
	if cfg := config.GetConfig(); cfg != nil {
		return cfg, nil
	}
	if err := config.Initialize(cfgFile); err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// outWriter is cmd's output, or stdout when the command is run directly.
func outWriter(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}

func commandContext(cmd *cobra.Command) context.Context {
	if cmd == nil || cmd.Context() == nil {
		return context.Background()
	}
	return cmd.Context()
}

// commandLogger builds the configured logger writing to cmd's error stream.
func commandLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	w := io.Writer(os.Stderr)
	if cmd != nil {
		w = cmd.ErrOrStderr()
	}
	return logging.New(logging.FromConfig(cfg.Telemetry.Logging, w))
}
