package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"armouriq/armour/pkg/archive"
	"armouriq/armour/pkg/cli"
	"armouriq/armour/pkg/server"
	"armouriq/armour/pkg/trace"
)

const exportPageSize = 100

var tracesFlags struct {
	status  string
	outcome string
	since   string
	until   string
	limit   int
	offset  int
	format  string
	show    string
	output  string
}

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "Inspect archived traces",
	Long: `Query and export the trace archive.

Subcommands:
  list    - List traces with filters
  show    - Print one trace
  export  - Write matching traces as JSON Lines

Examples:
  # Blocked traces from the last day
  armour traces list --outcome BLOCKED --since 2026-10-18T00:00:00Z

  # CSV for a spreadsheet
  armour traces list --format csv > traces.csv

  # Full record
  armour traces show 3f2a...`,
}

var tracesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived traces",
	RunE:  listTraces,
}

var tracesShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Print one archived trace",
	Args:  cobra.ExactArgs(1),
	RunE:  showTrace,
}

var tracesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export archived traces as JSON Lines",
	RunE:  exportTraces,
}

func init() {
	rootCmd.AddCommand(tracesCmd)
	tracesCmd.AddCommand(tracesListCmd, tracesShowCmd, tracesExportCmd)

	for _, c := range []*cobra.Command{tracesListCmd, tracesExportCmd} {
		c.Flags().StringVar(&tracesFlags.status, "status", "", "filter by trace status (RUNNING, PENDING, COMPLETED, ABANDONED)")
		c.Flags().StringVar(&tracesFlags.outcome, "outcome", "", "filter by outcome (EXECUTED, BLOCKED, REQUIRES_APPROVAL, FAILED, ABANDONED)")
		c.Flags().StringVar(&tracesFlags.since, "since", "", "only traces updated at or after this time (RFC3339)")
		c.Flags().StringVar(&tracesFlags.until, "until", "", "only traces updated before this time (RFC3339)")
	}
	tracesListCmd.Flags().IntVar(&tracesFlags.limit, "limit", 50, "max results")
	tracesListCmd.Flags().IntVar(&tracesFlags.offset, "offset", 0, "pagination offset")
	tracesListCmd.Flags().StringVar(&tracesFlags.format, "format", "text", "output format: text, json, csv")
	tracesShowCmd.Flags().StringVar(&tracesFlags.show, "format", "json", "output format: text, json")
	tracesExportCmd.Flags().StringVarP(&tracesFlags.output, "output", "o", "", "output file (required)")
	_ = tracesExportCmd.MarkFlagRequired("output")
}

func openArchive(cmd *cobra.Command) (archive.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := commandLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	store, err := server.OpenArchive(cfg, logger)
	if err != nil {
		return nil, cli.NewCommandError("traces", err)
	}
	return store, nil
}

func traceQuery() (*archive.Query, error) {
	q := &archive.Query{
		Status:  trace.Status(tracesFlags.status),
		Outcome: tracesFlags.outcome,
	}
	if tracesFlags.since != "" {
		t, err := time.Parse(time.RFC3339, tracesFlags.since)
		if err != nil {
			return nil, fmt.Errorf("invalid --since: %w", err)
		}
		q.StartTime = &t
	}
	if tracesFlags.until != "" {
		t, err := time.Parse(time.RFC3339, tracesFlags.until)
		if err != nil {
			return nil, fmt.Errorf("invalid --until: %w", err)
		}
		q.EndTime = &t
	}
	return q, nil
}

func listTraces(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(tracesFlags.format)
	if err != nil {
		return err
	}
	q, err := traceQuery()
	if err != nil {
		return err
	}
	q.Limit = tracesFlags.limit
	q.Offset = tracesFlags.offset

	store, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	traces, err := store.List(commandContext(cmd), q)
	if err != nil {
		return cli.NewCommandError("traces", err)
	}

	table := &cli.Table{Headers: []string{"EXECUTION_ID", "STATUS", "OUTCOME", "REASON", "STAGES", "UPDATED"}}
	for _, t := range traces {
		reason := t.AbandonReason
		if out := t.Outcome(); out != nil {
			reason = out.Reason
		}
		table.Append(
			t.ExecutionID,
			string(t.Status),
			archive.OutcomeOf(t),
			reason,
			strconv.Itoa(len(t.Stages)),
			t.UpdatedAt.Format(time.RFC3339),
		)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table)
}

func showTrace(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(tracesFlags.show)
	if err != nil {
		return err
	}
	store, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	t, err := store.Get(commandContext(cmd), args[0])
	if err != nil {
		return cli.NewCommandError("traces", err)
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatJSON {
		return cli.NewFormatter(format).FormatTo(out, t)
	}
	fmt.Fprintf(out, "Execution %s  %s/%s\n", t.ExecutionID, t.State, t.Status)
	for _, s := range t.Stages {
		fmt.Fprintf(out, "  %s  %-18s %s\n", s.At.Format(time.RFC3339), s.Type, stageSummary(s))
	}
	if t.AbandonReason != "" {
		fmt.Fprintf(out, "  abandoned: %s\n", t.AbandonReason)
	}
	return nil
}

func exportTraces(cmd *cobra.Command, args []string) error {
	q, err := traceQuery()
	if err != nil {
		return err
	}
	store, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := commandContext(cmd)
	total, err := store.Count(ctx, q)
	if err != nil {
		return cli.NewCommandError("traces", err)
	}

	f, err := os.Create(tracesFlags.output)
	if err != nil {
		return cli.NewCommandError("traces", err)
	}
	defer f.Close()

	progress := cli.NewProgressReporter(cmd.ErrOrStderr(), "traces")
	progress.Start(total)
	enc := json.NewEncoder(f)

	var written int64
	for q.Offset = 0; written < total; q.Offset += exportPageSize {
		q.Limit = exportPageSize
		page, err := store.List(ctx, q)
		if err != nil {
			progress.Error(err)
			return cli.NewCommandError("traces", err)
		}
		if len(page) == 0 {
			break
		}
		for _, t := range page {
			if err := enc.Encode(t); err != nil {
				progress.Error(err)
				return cli.NewCommandError("traces", err)
			}
			written++
		}
		progress.Update(written)
	}
	progress.Finish()

	if err := f.Sync(); err != nil {
		return cli.NewCommandError("traces", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d trace(s) to %s\n", written, tracesFlags.output)
	return nil
}
