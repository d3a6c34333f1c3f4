package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"armouriq/armour/pkg/cli"
	"armouriq/armour/pkg/server"
)

var serveFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the governance API server",
	Long: `Start the governance API server with the specified configuration.

The server exposes the trace pipeline, stored traces, the approval queue,
health endpoints and Prometheus metrics. Parked traces older than the pending
TTL are abandoned on the sweep schedule and old traces are pruned on the
retention schedule.

Examples:
  # Start with default config
  ARMOUR_SIGNING_SECRET=... armour serve

  # Start with custom config
  armour serve --config /etc/armour/config.yaml

  # Override listen address
  armour serve --listen 0.0.0.0:8080

  # Validate config and policies without starting the server
  armour serve --dry-run`,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config and policies without starting the server")
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	if serveFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = serveFlags.logLevel
	}

	app, err := server.Build(cfg, server.WithVersion(versionInfo()), server.WithLogOutput(cmd.ErrOrStderr()))
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}
	defer app.Close()

	if serveFlags.dryRun {
		rules := app.Engine.RuleSet()
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Configuration valid\n✓ %d rule(s) loaded (version %s)\n", len(rules.Rules), rules.Version)
		return nil
	}

	srv := server.NewServer(app)
	if err := srv.Start(commandContext(cmd)); err != nil {
		return cli.NewCommandError("serve", err)
	}
	return nil
}
