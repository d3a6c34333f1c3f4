package main

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunCommandInteractive(t *testing.T) {
	useTestConfig(t)

	stdout, stderr, err := executeCommand(t, "3000\n", "run", "--format", "text", "--no-input=false", "Pay my electricity bill")
	if err != nil {
		t.Fatalf("run error = %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stderr, "? ") {
		t.Errorf("expected a question on stderr, got %q", stderr)
	}
	for _, want := range []string{"USER_INPUT", "INTENT_TOKEN", "MCP_OUTCOME", "EXECUTED", "ref=BK-"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunCommandNoInput(t *testing.T) {
	useTestConfig(t)

	stdout, _, err := executeCommand(t, "", "run", "--format", "text", "--no-input", "Pay my electricity bill")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if !strings.Contains(stdout, "Waiting for answers:") || !strings.Contains(stdout, "PAY_BILL.amount") {
		t.Errorf("expected pending questions, got:\n%s", stdout)
	}
}

func TestRunCommandJSON(t *testing.T) {
	useTestConfig(t)

	stdout, _, err := executeCommand(t, "", "run", "--format", "json", "--no-input", "Pay my electricity bill of ₹6200")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	out := lastOutcome(t, stdout)
	if out["status"] != "BLOCKED" {
		t.Errorf("status = %v, want BLOCKED", out["status"])
	}
}

func TestRunCommandEOFAbandons(t *testing.T) {
	useTestConfig(t)

	_, _, err := executeCommand(t, "", "run", "--format", "text", "--no-input=false", "Pay my electricity bill")
	if err == nil {
		t.Fatal("expected an error when stdin closes before an answer")
	}
}

func TestRunCommandMissingSecret(t *testing.T) {
	cfg := useTestConfig(t)
	cfg.Signing.Secret = ""

	_, _, err := executeCommand(t, "", "run", "--format", "text", "--no-input", "Pay my electricity bill")
	if err == nil {
		t.Fatal("expected an error without a signing secret")
	}
}

func TestTracesAndApprovalsCommands(t *testing.T) {
	cfg := useTestConfig(t)
	dir := t.TempDir()
	cfg.Archive.Backend = "sqlite"
	cfg.Archive.SQLite.Path = filepath.Join(dir, "traces.db")
	cfg.Approvals.Backend = "sqlite"
	cfg.Approvals.Path = filepath.Join(dir, "approvals.db")

	stdout, _, err := executeCommand(t, "", "run", "--format", "json", "--no-input", "Pay my electricity bill of ₹6200")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	blockedID := executionID(t, stdout)

	stdout, _, err = executeCommand(t, "", "run", "--format", "json", "--no-input", "Pay my water bill of ₹25000")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	out := lastOutcome(t, stdout)
	if out["status"] != "REQUIRES_APPROVAL" {
		t.Fatalf("status = %v, want REQUIRES_APPROVAL", out["status"])
	}
	approvalID, _ := out["approval_id"].(string)
	if approvalID == "" {
		t.Fatal("no approval id in outcome")
	}

	stdout, _, err = executeCommand(t, "", "traces", "list", "--format", "csv", "--outcome", "BLOCKED",
		"--status=", "--since=", "--until=", "--limit", "50", "--offset", "0")
	if err != nil {
		t.Fatalf("traces list error = %v", err)
	}
	if !strings.HasPrefix(stdout, "EXECUTION_ID,STATUS,OUTCOME") || !strings.Contains(stdout, blockedID) {
		t.Errorf("unexpected list output:\n%s", stdout)
	}

	stdout, _, err = executeCommand(t, "", "traces", "show", "--format", "text", blockedID)
	if err != nil {
		t.Fatalf("traces show error = %v", err)
	}
	if !strings.Contains(stdout, "MAX_TRANSACTION_AMOUNT") {
		t.Errorf("show output missing triggered rule:\n%s", stdout)
	}

	exportPath := filepath.Join(dir, "export.jsonl")
	stdout, _, err = executeCommand(t, "", "traces", "export", "--output", exportPath, "--outcome=", "--status=", "--since=", "--until=")
	if err != nil {
		t.Fatalf("traces export error = %v", err)
	}
	if !strings.Contains(stdout, "Exported 2 trace(s)") {
		t.Errorf("unexpected export output: %s", stdout)
	}

	stdout, _, err = executeCommand(t, "", "approvals", "list", "--format", "json")
	if err != nil {
		t.Fatalf("approvals list error = %v", err)
	}
	if !strings.Contains(stdout, approvalID) {
		t.Errorf("approval %s not listed:\n%s", approvalID, stdout)
	}

	stdout, _, err = executeCommand(t, "", "approvals", "approve", approvalID, "--approver", "alice", "--comment", "checked")
	if err != nil {
		t.Fatalf("approvals approve error = %v", err)
	}
	if !strings.Contains(stdout, "APPROVED by alice") || !strings.Contains(stdout, "EXECUTED") {
		t.Errorf("unexpected approve output:\n%s", stdout)
	}

	_, _, err = executeCommand(t, "", "approvals", "reject", approvalID, "--approver", "bob", "--comment=")
	if err == nil {
		t.Error("resolving twice should fail")
	}
}

func lastOutcome(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, raw)
	}
	stages, ok := body["stages"].([]interface{})
	if !ok || len(stages) == 0 {
		t.Fatalf("no stages in %v", body)
	}
	last := stages[len(stages)-1].(map[string]interface{})
	if last["type"] != "MCP_OUTCOME" {
		t.Fatalf("last stage = %v, want MCP_OUTCOME", last["type"])
	}
	return last["payload"].(map[string]interface{})
}

func executionID(t *testing.T, raw string) string {
	t.Helper()
	var body struct {
		ExecutionID string `json:"execution_id"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil || body.ExecutionID == "" {
		t.Fatalf("no execution id in %s", raw)
	}
	return body.ExecutionID
}
