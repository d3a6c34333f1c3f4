package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armouriq/armour/pkg/action"
	"armouriq/armour/pkg/approval"
	"armouriq/armour/pkg/archive"
	"armouriq/armour/pkg/executor"
	"armouriq/armour/pkg/intent"
	"armouriq/armour/pkg/limits/ratelimit"
	"armouriq/armour/pkg/policy/engine"
	"armouriq/armour/pkg/policy/engine/source"
	"armouriq/armour/pkg/policy/parser"
	"armouriq/armour/pkg/questionnaire"
	"armouriq/armour/pkg/reasoning"
	"armouriq/armour/pkg/security/auth"
	"armouriq/armour/pkg/telemetry/health"
	"armouriq/armour/pkg/trace"
)

type stack struct {
	server    *httptest.Server
	archive   *archive.MemoryStore
	approvals *approval.MemoryStore
	orch      *trace.Orchestrator

	// key is sent as X-API-Key when set.
	key string
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStack(t *testing.T, opts ...func(*Dependencies)) *stack {
	t.Helper()
	logger := quietLogger()
	registry := action.DefaultRegistry()

	signer, err := intent.NewSigner([]byte("api-test-secret"))
	require.NoError(t, err)
	builder := intent.NewBuilder(registry, questionnaire.NewCoordinator(registry), signer, intent.WithLogger(logger))

	set, err := parser.NewParser().Parse("../../policies/payments.yaml")
	require.NoError(t, err)
	eng, err := engine.NewInterpreterEngine(engine.DefaultEngineConfig(), source.NewMemorySource(set.Rules...), signer, logger)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	s := &stack{
		archive:   archive.NewMemoryStore(),
		approvals: approval.NewMemoryStore(),
	}
	s.orch, err = trace.NewOrchestrator(trace.DefaultConfig(), trace.Dependencies{
		Reasoner:  reasoning.NewKeywordReasoner(logger),
		Registry:  registry,
		Builder:   builder,
		Engine:    eng,
		Executor:  executor.NewSimulated(signer, logger),
		Approvals: s.approvals,
		Archive:   s.archive,
	}, logger)
	require.NoError(t, err)

	checker := health.New(0)
	checker.RegisterCheck("archive", health.PingCheck(pingFunc(func(ctx context.Context) error { return nil })))

	deps := Dependencies{
		Pipeline:  s.orch,
		Policies:  eng,
		Traces:    s.archive,
		Approvals: s.approvals,
		Health:    checker,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("armour_traces_pending 0\n"))
		}),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h := New(Config{MaxBodyBytes: 4096}, deps, logger)
	s.server = httptest.NewServer(h.Routes())
	t.Cleanup(s.server.Close)
	return s
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func (s *stack) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.server.URL+path, rd)
	require.NoError(t, err)
	if s.key != "" {
		req.Header.Set("X-API-Key", s.key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func outcomeOf(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	stages, ok := body["stages"].([]interface{})
	require.True(t, ok, "no stages in %v", body)
	last := stages[len(stages)-1].(map[string]interface{})
	require.Equal(t, "MCP_OUTCOME", last["type"])
	return last["payload"].(map[string]interface{})
}

func TestExecute_BlockedIsRenderedAsTrace(t *testing.T) {
	s := newStack(t)

	resp, body := s.do(t, http.MethodPost, "/api/execute", map[string]string{"text": "Pay my electricity bill of ₹6200"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	out := outcomeOf(t, body)
	assert.Equal(t, "BLOCKED", out["status"])
	assert.Equal(t, engine.ReasonPolicyViolation, out["reason"])
	assert.Equal(t, []interface{}{"MAX_TRANSACTION_AMOUNT"}, out["triggered_rules"])

	id := body["execution_id"].(string)
	resp, stored := s.do(t, http.MethodGet, "/api/traces/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, stored["execution_id"])
	assert.Equal(t, "COMPLETED", stored["status"])
	assert.Nil(t, stored["pending"])
}

func TestExecute_QuestionsThenResume(t *testing.T) {
	s := newStack(t)

	resp, body := s.do(t, http.MethodPost, "/api/execute", map[string]string{"text": "Pay my electricity bill"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["needs_questions"])
	id := body["execution_id"].(string)
	questions := body["questions"].([]interface{})
	require.Len(t, questions, 1)
	assert.Equal(t, "PAY_BILL.amount", questions[0].(map[string]interface{})["id"])

	resp, parked := s.do(t, http.MethodGet, "/api/traces/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, parked["pending"])
	assert.Equal(t, "PENDING", parked["status"])

	resp, body = s.do(t, http.MethodPost, "/api/execute", trace.Request{
		ExecutionID: id,
		Responses:   []questionnaire.Answer{{ID: "PAY_BILL.amount", Answer: "₹3,000"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := outcomeOf(t, body)
	assert.Equal(t, "EXECUTED", out["status"])
	assert.True(t, strings.HasPrefix(out["reference"].(string), "BK-"))
}

func TestExecute_Errors(t *testing.T) {
	s := newStack(t)

	tests := []struct {
		name     string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{"empty text", map[string]string{"text": "  "}, http.StatusBadRequest, CodeBadRequest},
		{"malformed json", "{not json", http.StatusBadRequest, CodeBadRequest},
		{"empty body", "", http.StatusBadRequest, CodeBadRequest},
		{"unknown execution", map[string]interface{}{"execution_id": "nope", "responses": []interface{}{}}, http.StatusNotFound, CodeNotFound},
		{"too large", map[string]string{"text": strings.Repeat("a", 8192)}, http.StatusRequestEntityTooLarge, CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodPost, "/api/execute", tt.body)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, tt.wantErr, body["error"])
		})
	}
}

func TestApprovals(t *testing.T) {
	s := newStack(t)

	_, body := s.do(t, http.MethodPost, "/api/execute", map[string]string{"text": "Pay my water bill of ₹25000"})
	out := outcomeOf(t, body)
	require.Equal(t, "REQUIRES_APPROVAL", out["status"])
	approvalID := out["approval_id"].(string)

	resp, list := s.do(t, http.MethodGet, "/api/approvals", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, list["approvals"], 1)

	resp, body = s.do(t, http.MethodPost, "/api/approvals/"+approvalID, map[string]string{"comment": "ok"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "approver is required")

	resp, body = s.do(t, http.MethodPost, "/api/approvals/"+approvalID, approval.Decision{Approve: true, Approver: "ops@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stage := body["stage"].(map[string]interface{})
	assert.Equal(t, "BOOKING_APPROVAL", stage["type"])
	payload := stage["payload"].(map[string]interface{})
	assert.Equal(t, "EXECUTED", payload["status"])

	resp, body = s.do(t, http.MethodPost, "/api/approvals/"+approvalID, approval.Decision{Approve: true, Approver: "someone-else"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, CodeConflict, body["error"])

	resp, body = s.do(t, http.MethodGet, "/api/approvals/"+approvalID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "APPROVED", body["status"])

	resp, _ = s.do(t, http.MethodGet, "/api/approvals/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func withKeys(d *Dependencies) {
	d.Keys = auth.NewAPIKeyValidator([]*auth.APIKeyInfo{
		{Key: "ak-agent", Principal: "agent", Roles: []auth.Role{auth.RoleExecute}, Enabled: true},
		{Key: "ak-ops", Principal: "ops@example.com", Roles: []auth.Role{auth.RoleRead, auth.RoleApprove}, Enabled: true},
		{Key: "ak-auditor", Principal: "auditor", Roles: []auth.Role{auth.RoleRead}, Enabled: true},
	})
}

func TestAuth_Roles(t *testing.T) {
	s := newStack(t, withKeys)

	tests := []struct {
		name     string
		key      string
		method   string
		path     string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{"health is open", "", http.MethodGet, "/api/health", nil, http.StatusOK, ""},
		{"version is open", "", http.MethodGet, "/api/version", nil, http.StatusOK, ""},
		{"metrics are open", "", http.MethodGet, "/metrics", nil, http.StatusOK, ""},
		{"execute without key", "", http.MethodPost, "/api/execute", map[string]string{"text": "Pay my electricity bill"}, http.StatusUnauthorized, CodeUnauthorized},
		{"unknown key", "ak-nope", http.MethodGet, "/api/policy", nil, http.StatusUnauthorized, CodeUnauthorized},
		{"execute as agent", "ak-agent", http.MethodPost, "/api/execute", map[string]string{"text": "Pay my electricity bill"}, http.StatusOK, ""},
		{"execute as auditor", "ak-auditor", http.MethodPost, "/api/execute", map[string]string{"text": "Pay my electricity bill"}, http.StatusForbidden, CodeForbidden},
		{"read as agent", "ak-agent", http.MethodGet, "/api/traces", nil, http.StatusForbidden, CodeForbidden},
		{"read as auditor", "ak-auditor", http.MethodGet, "/api/traces", nil, http.StatusOK, ""},
		{"approve as auditor", "ak-auditor", http.MethodPost, "/api/approvals/a1", approval.Decision{Approve: true}, http.StatusForbidden, CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.key = tt.key
			resp, body := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, body["error"])
			}
		})
	}
}

func TestAuth_ApproverIsPrincipal(t *testing.T) {
	s := newStack(t, withKeys)

	s.key = "ak-agent"
	_, body := s.do(t, http.MethodPost, "/api/execute", map[string]string{"text": "Pay my water bill of ₹25000"})
	out := outcomeOf(t, body)
	require.Equal(t, "REQUIRES_APPROVAL", out["status"])
	approvalID := out["approval_id"].(string)

	s.key = "ak-ops"
	resp, body := s.do(t, http.MethodPost, "/api/approvals/"+approvalID, approval.Decision{Approve: true, Approver: "mallory"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, CodeForbidden, body["error"])

	resp, _ = s.do(t, http.MethodPost, "/api/approvals/"+approvalID, approval.Decision{Approve: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/approvals/"+approvalID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ops@example.com", body["approver"])
}

func TestRateLimit_Execute(t *testing.T) {
	s := newStack(t, func(d *Dependencies) {
		d.Limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 0.01, Burst: 2})
	})

	for i := 0; i < 2; i++ {
		resp, _ := s.do(t, http.MethodPost, "/api/execute", map[string]string{"text": "Pay my electricity bill of ₹100"})
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i)
	}

	resp, body := s.do(t, http.MethodPost, "/api/execute", map[string]string{"text": "Pay my electricity bill of ₹100"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, CodeRateLimited, body["error"])
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp, _ = s.do(t, http.MethodGet, "/api/traces", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "reads are not throttled")
}

func TestListTraces(t *testing.T) {
	s := newStack(t)
	for _, text := range []string{"Pay my electricity bill of ₹6200", "Pay my electricity bill of ₹100", "Pay my electricity bill"} {
		resp, _ := s.do(t, http.MethodPost, "/api/execute", map[string]string{"text": text})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
		wantTotal float64
	}{
		{"all", "", http.StatusOK, 3, 3},
		{"blocked only", "?outcome=BLOCKED", http.StatusOK, 1, 1},
		{"pending status", "?status=PENDING", http.StatusOK, 1, 1},
		{"paged", "?limit=2", http.StatusOK, 2, 3},
		{"bad limit", "?limit=zero", http.StatusBadRequest, 0, 0},
		{"bad since", "?since=yesterday", http.StatusBadRequest, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodGet, "/api/traces"+tt.query, nil)
			require.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantCode != http.StatusOK {
				return
			}
			assert.Len(t, body["traces"], tt.wantCount)
			assert.Equal(t, tt.wantTotal, body["total"])
		})
	}
}

func TestPolicyHealthAndMetrics(t *testing.T) {
	s := newStack(t)

	resp, body := s.do(t, http.MethodGet, "/api/policy", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["version"])
	assert.Len(t, body["rules"], 4)

	resp, body = s.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, health.StatusHealthy, body["status"])
	assert.Equal(t, health.DefaultService, body["service"])

	resp, body = s.do(t, http.MethodGet, "/api/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, health.StatusReady, body["status"])

	resp, _ = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/nothing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, CodeNotFound, body["error"])

	resp, _ = s.do(t, http.MethodDelete, "/api/policy", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRequestID_PropagatesCallerValue(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeInternal, body.Error)
	assert.NotContains(t, body.Message, "boom")
}

func TestClassify(t *testing.T) {
	stageErr := &trace.StageError{ExecutionID: "exec-1", Stage: trace.StateReasoning, Cause: trace.ErrCollaboratorTimeout}
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"timeout", stageErr, http.StatusGatewayTimeout, CodeTimeout},
		{"abandoned", &trace.StageError{ExecutionID: "exec-2", Stage: trace.StateReasoning, Cause: context.Canceled}, http.StatusServiceUnavailable, CodeAbandoned},
		{"expired", trace.ErrPendingExpired, http.StatusGone, CodeGone},
		{"disabled", trace.ErrApprovalsDisabled, http.StatusNotImplemented, CodeApprovalsDisabled},
		{"invalid answer", &questionnaire.InvalidAnswerError{ID: "?"}, http.StatusBadRequest, CodeBadRequest},
		{"archive missing", archive.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, errCode, msg := classify(tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantErr, errCode)
			if code == http.StatusInternalServerError {
				assert.NotContains(t, msg, "disk")
			}
		})
	}
	assert.Equal(t, "exec-1", executionIDOf(stageErr))
}
