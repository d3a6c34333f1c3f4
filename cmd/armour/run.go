package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"armouriq/armour/pkg/cli"
	"armouriq/armour/pkg/server"
	"armouriq/armour/pkg/trace"
)

var runFlags struct {
	format  string
	noInput bool
}

var runCmd = &cobra.Command{
	Use:   "run <request>",
	Short: "Run one request through the governance pipeline",
	Long: `Run one natural-language request through the pipeline and print its trace.

Missing fields are asked for on the terminal, one question per line. With
--no-input the trace stops at the first questionnaire and the questions are
printed instead.

Examples:
  # Interactive
  armour run "Pay my electricity bill"

  # Full trace as JSON
  armour run --format json "Pay my water bill of ₹2500"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRequest,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.format, "format", "text", "output format: text, json")
	runCmd.Flags().BoolVar(&runFlags.noInput, "no-input", false, "print questions instead of prompting")
}

func runRequest(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(runFlags.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := []server.Option{server.WithVersion(versionInfo()), server.WithLogOutput(cmd.ErrOrStderr())}
	if !runFlags.noInput {
		opts = append(opts, server.WithAnswerSource(newPromptAnswers(cmd.InOrStdin(), cmd.ErrOrStderr())))
	}
	app, err := server.Build(cfg, opts...)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}
	defer app.Close()

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	res, err := app.Orchestrator.Execute(ctx, trace.Request{Text: strings.Join(args, " ")})
	if res == nil && err != nil {
		return cli.NewCommandError("run", err)
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatJSON {
		if ferr := cli.NewFormatter(format).FormatTo(out, res); ferr != nil {
			return ferr
		}
	} else {
		printResult(out, res)
	}
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	return nil
}

func printResult(w io.Writer, res *trace.Result) {
	fmt.Fprintf(w, "Execution %s\n", res.ExecutionID)
	for _, s := range res.Stages {
		fmt.Fprintf(w, "  %-18s %s\n", s.Type, stageSummary(s))
	}
	if res.NeedsQuestions {
		fmt.Fprintln(w, "\nWaiting for answers:")
		for _, q := range res.Questions {
			fmt.Fprintf(w, "  %s: %s\n", q.ID, q.QuestionText)
		}
	}
}

func stageSummary(s trace.Stage) string {
	switch p := s.Payload.(type) {
	case *trace.UserInputPayload:
		return fmt.Sprintf("%q", p.Text)
	case *trace.ReasoningPayload:
		return p.Action
	case *trace.PlanPayload:
		return strings.Join(p.Steps, " -> ")
	case *trace.IntentTokenPayload:
		return fmt.Sprintf("%s confidence=%.2f rounds=%d", p.Action, p.Confidence, p.QuestionRounds)
	case *trace.PolicyEvaluationPayload:
		if p.Report == nil {
			return "error: " + p.Error
		}
		return fmt.Sprintf("%s %s %s", p.Verdict, p.Reason, strings.Join(p.TriggeredRules, ","))
	case *trace.OutcomePayload:
		out := fmt.Sprintf("%s %s", p.Status, p.Reason)
		if p.Reference != "" {
			out += " ref=" + p.Reference
		}
		if p.ApprovalID != "" {
			out += " approval=" + p.ApprovalID
		}
		return out
	case *trace.ApprovalPayload:
		return fmt.Sprintf("%s by %s: %s %s", p.Decision, p.Approver, p.Status, p.Reason)
	default:
		return ""
	}
}
