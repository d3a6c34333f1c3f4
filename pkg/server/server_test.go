package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armouriq/armour/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Signing.Secret = "server-test-secret"
	cfg.Policy.Path = "../../policies"
	cfg.Archive.Backend = "memory"
	cfg.Approvals.Backend = "memory"
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := Build(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func TestBuild_RequiresSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Signing.Secret = ""

	_, err := Build(cfg, WithLogger(quietLogger()))
	require.Error(t, err)
}

func TestBuild_NilConfig(t *testing.T) {
	_, err := Build(nil)
	require.Error(t, err)
}

func TestBuild_BadPolicyPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Policy.Path = filepath.Join(t.TempDir(), "missing")

	_, err := Build(cfg, WithLogger(quietLogger()))
	require.Error(t, err)
}

func TestBuild_Components(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(cfg *config.Config, dir string)
		wantApprovals bool
		wantMetrics   bool
	}{
		{
			name:          "memory defaults",
			mutate:        func(cfg *config.Config, dir string) {},
			wantApprovals: true,
			wantMetrics:   true,
		},
		{
			name: "approvals and metrics off",
			mutate: func(cfg *config.Config, dir string) {
				off := false
				cfg.Approvals.Enabled = &off
				cfg.Telemetry.Metrics.Enabled = &off
			},
		},
		{
			name: "sqlite stores",
			mutate: func(cfg *config.Config, dir string) {
				cfg.Archive.Backend = "sqlite"
				cfg.Archive.SQLite.Path = filepath.Join(dir, "traces.db")
				cfg.Approvals.Backend = "sqlite"
				cfg.Approvals.Path = filepath.Join(dir, "approvals.db")
			},
			wantApprovals: true,
			wantMetrics:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg, t.TempDir())
			app := buildApp(t, cfg)

			assert.NotNil(t, app.Orchestrator)
			assert.NotNil(t, app.Archive)
			assert.NotEmpty(t, app.Engine.RuleSet().Rules)
			assert.Equal(t, tt.wantApprovals, app.Approvals != nil)
			assert.Equal(t, tt.wantMetrics, app.Metrics != nil)
			assert.False(t, app.Tracer.Enabled())
		})
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestServer_Handler(t *testing.T) {
	app := buildApp(t, testConfig(t))
	h := NewServer(app).Handler()

	rec, body := do(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "armouriq-api", body["service"])

	rec, body = do(t, h, http.MethodGet, "/api/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, app.Engine.RuleSet().Version, body["policy_version"])
	assert.NotEmpty(t, body["policy_version"])

	rec, body = do(t, h, http.MethodPost, "/api/execute", `{"text":"Pay my electricity bill of ₹6200"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	id, _ := body["execution_id"].(string)
	require.NotEmpty(t, id)

	rec, stored := do(t, h, http.MethodGet, "/api/traces/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "COMPLETED", stored["status"])

	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "armour_governance_traces_pending")
	assert.Contains(t, rec.Body.String(), "armour_governance_traces_total")
}

func TestServer_MetricsPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.Metrics.Path = "/internal/metrics"
	h := NewServer(buildApp(t, cfg)).Handler()

	rec, _ := do(t, h, http.MethodGet, "/internal/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AuthAndRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth = config.AuthConfig{
		Enabled: true,
		Keys: []config.APIKeyConfig{
			{Principal: "agent", Key: "ak-agent", Roles: []string{"execute", "read"}},
			{Principal: "old", Key: "ak-old", Roles: []string{"read"}, Disabled: true},
		},
	}
	cfg.Server.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.01, Burst: 1}
	app := buildApp(t, cfg)
	require.NotNil(t, app.Keys)
	require.NotNil(t, app.Limiter)
	h := NewServer(app).Handler()

	send := func(key, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("", http.MethodGet, "/api/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, send("", http.MethodGet, "/api/traces", "").Code)
	assert.Equal(t, http.StatusUnauthorized, send("ak-old", http.MethodGet, "/api/traces", "").Code)
	assert.Equal(t, http.StatusOK, send("ak-agent", http.MethodGet, "/api/traces", "").Code)

	body := `{"text":"Pay my electricity bill of ₹100"}`
	assert.Equal(t, http.StatusOK, send("ak-agent", http.MethodPost, "/api/execute", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, send("ak-agent", http.MethodPost, "/api/execute", body).Code)
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer(buildApp(t, testConfig(t)))

	done := make(chan error, 1)
	go func() { done <- srv.Start(context.Background()) }()

	require.Eventually(t, srv.IsRunning, time.Second, 10*time.Millisecond)
	srv.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, srv.IsRunning())
}

func TestServer_ContextCancel(t *testing.T) {
	srv := NewServer(buildApp(t, testConfig(t)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, srv.IsRunning, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
