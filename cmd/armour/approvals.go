package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"armouriq/armour/pkg/approval"
	"armouriq/armour/pkg/cli"
	"armouriq/armour/pkg/server"
	"armouriq/armour/pkg/trace"
)

var approvalsFlags struct {
	format   string
	approver string
	comment  string
}

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Work the human approval queue",
	Long: `List pending approvals and record decisions.

An approved action is executed with the intent token stored when it was
evaluated. The executor verifies that token again, so an approval given after
the token expired ends BLOCKED with SYSTEM_ERROR:TOKEN_EXPIRED.

Examples:
  armour approvals list
  armour approvals approve 7c1d... --approver alice --comment "verified by phone"
  armour approvals reject 7c1d... --approver alice`,
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approvals",
	RunE:  listApprovals,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve a pending action and execute it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(cmd, args[0], true)
	},
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <approval-id>",
	Short: "Reject a pending action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(cmd, args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(approvalsCmd)
	approvalsCmd.AddCommand(approvalsListCmd, approvalsApproveCmd, approvalsRejectCmd)

	approvalsListCmd.Flags().StringVar(&approvalsFlags.format, "format", "text", "output format: text, json, csv")
	for _, c := range []*cobra.Command{approvalsApproveCmd, approvalsRejectCmd} {
		c.Flags().StringVar(&approvalsFlags.approver, "approver", "", "who is deciding (required)")
		c.Flags().StringVar(&approvalsFlags.comment, "comment", "", "note stored with the decision")
		_ = c.MarkFlagRequired("approver")
	}
}

func listApprovals(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(approvalsFlags.format)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := server.OpenApprovals(cfg)
	if err != nil {
		return cli.NewCommandError("approvals", err)
	}
	if store == nil {
		return cli.NewConfigError("approvals.enabled", "the approval queue is disabled")
	}
	defer store.Close()

	pending, err := store.ListPending(commandContext(cmd))
	if err != nil {
		return cli.NewCommandError("approvals", err)
	}

	table := &cli.Table{Headers: []string{"ID", "EXECUTION_ID", "TOOL", "ACTION", "RULES", "CREATED"}}
	for _, a := range pending {
		act := ""
		if a.Token != nil {
			act = a.Token.Action
		}
		table.Append(a.ID, a.ExecutionID, a.Tool, act, strings.Join(a.TriggeredRules, ","), a.CreatedAt.Format(time.RFC3339))
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), table)
}

func resolveApproval(cmd *cobra.Command, id string, approve bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := server.Build(cfg, server.WithVersion(versionInfo()), server.WithLogOutput(cmd.ErrOrStderr()))
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}
	defer app.Close()

	res, err := app.Orchestrator.ResolveApproval(commandContext(cmd), id, approval.Decision{
		Approve:  approve,
		Approver: approvalsFlags.approver,
		Comment:  approvalsFlags.comment,
	})
	switch {
	case errors.Is(err, trace.ErrApprovalsDisabled):
		return cli.NewConfigError("approvals.enabled", "the approval queue is disabled")
	case err != nil:
		return cli.NewCommandError("approvals", err)
	}

	p := res.Payload()
	fmt.Fprintf(cmd.OutOrStdout(), "Approval %s %s by %s\n", res.Approval.ID, res.Approval.Status, res.Approval.Approver)
	if p != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Outcome: %s %s", p.Status, p.Reason)
		if p.Reference != "" {
			fmt.Fprintf(cmd.OutOrStdout(), " ref=%s", p.Reference)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}
