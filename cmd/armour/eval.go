package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"armouriq/armour/pkg/cli"
	"armouriq/armour/pkg/policy/engine"
	"armouriq/armour/pkg/policy/engine/source"
	"armouriq/armour/pkg/telemetry/logging"
	"armouriq/armour/pkg/value"
)

var evalFlags struct {
	tool   string
	policy string
	format string
	failOn string
}

var evalCmd = &cobra.Command{
	Use:   "eval field=value...",
	Short: "Evaluate a transaction record against the policy rules",
	Long: `Evaluate a transaction record against the rules bound to one tool and
print the full report: verdict, reason, triggered rules and a check per rule.

Values are read as YAML scalars: 6200 is a number, true is a boolean and
anything else is a string. Quote a value to force a string.

Examples:
  armour eval --tool execute_payment merchant=ELECTRICITY_BOARD amount=6200

  # Use another rule directory and fail when the verdict is BLOCKED
  armour eval --policy ./staging-policies --fail-on BLOCKED \
    --tool book_travel destination=Paris price=450 travelers=2`,
	Args: cobra.MinimumNArgs(1),
	RunE: evalRecord,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringVarP(&evalFlags.tool, "tool", "t", "", "tool whose rules are evaluated (required)")
	evalCmd.Flags().StringVarP(&evalFlags.policy, "policy", "p", "", "policy file or directory (default: policy.path from config)")
	evalCmd.Flags().StringVar(&evalFlags.format, "format", "text", "output format: text, json")
	evalCmd.Flags().StringVar(&evalFlags.failOn, "fail-on", "", "exit non-zero for this verdict: BLOCKED, REQUIRES_APPROVAL")
	_ = evalCmd.MarkFlagRequired("tool")
}

func evalRecord(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(evalFlags.format)
	if err != nil {
		return err
	}
	record, err := parseRecord(args)
	if err != nil {
		return err
	}

	path := evalFlags.policy
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Policy.Path
	}

	logger, err := logging.New(logging.Config{Level: "warn", Format: "text", Writer: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	eng, err := engine.NewInterpreterEngine(engine.DefaultEngineConfig(), source.NewFileSource(path, logger), nil, logger)
	if err != nil {
		return cli.NewCommandError("eval", err)
	}
	defer eng.Close()

	report, err := eng.Evaluate(commandContext(cmd), evalFlags.tool, record)
	if err != nil {
		return cli.NewCommandError("eval", err)
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatJSON {
		if err := cli.NewFormatter(format).FormatTo(out, report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if evalFlags.failOn != "" && strings.EqualFold(evalFlags.failOn, string(report.Verdict)) {
		return cli.NewCommandError("eval", fmt.Errorf("verdict %s", report.Verdict))
	}
	return nil
}

// parseRecord reads field=value pairs. Each value is decoded as a YAML scalar.
func parseRecord(args []string) (value.Record, error) {
	record := make(value.Record, len(args))
	for _, arg := range args {
		field, raw, ok := strings.Cut(arg, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid field %q: expected field=value", arg)
		}
		var v interface{}
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", field, err)
		}
		if v == nil {
			v = raw
		}
		s, err := value.FromInterface(v)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", field, err)
		}
		record[field] = s
	}
	return record, nil
}

func printReport(w io.Writer, r *engine.Report) {
	fmt.Fprintf(w, "Tool:      %s\n", r.Tool)
	fmt.Fprintf(w, "Rule set:  %s\n", r.RuleSetVersion)
	fmt.Fprintf(w, "Verdict:   %s (%s)\n", r.Verdict, r.Reason)
	if len(r.TriggeredRules) > 0 {
		fmt.Fprintf(w, "Triggered: %s\n", strings.Join(r.TriggeredRules, ", "))
	}
	for _, reason := range r.Reasons {
		fmt.Fprintf(w, "  - %s\n", reason)
	}

	table := &cli.Table{Headers: []string{"RULE", "ACTION", "RESULT", "EXPECTED", "ACTUAL"}}
	for _, c := range r.Checks {
		table.Append(c.RuleRef, string(c.Action), string(c.Result), c.Expected, c.Actual)
	}
	fmt.Fprintln(w)
	_ = cli.NewFormatter(cli.FormatText).FormatTo(w, table)
}
