package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func TestNew(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{"default timeout", 0, 5 * time.Second},
		{"custom timeout", 10 * time.Second, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(tt.timeout)
			if checker.checkTimeout != tt.expectedTimeout {
				t.Errorf("expected timeout %v, got %v", tt.expectedTimeout, checker.checkTimeout)
			}
			if checker.CheckCount() != 0 {
				t.Errorf("expected 0 checks, got %d", checker.CheckCount())
			}
		})
	}
}

func TestRegisterAndUnregister(t *testing.T) {
	checker := New(time.Second)
	checker.RegisterCheck("policy", func(ctx context.Context) error { return nil })
	checker.RegisterCheck("archive", func(ctx context.Context) error { return nil })

	names := checker.ListChecks()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "archive" || names[1] != "policy" {
		t.Errorf("ListChecks() = %v", names)
	}
	if checker.GetCheck("policy") == nil {
		t.Error("GetCheck(policy) = nil")
	}

	checker.UnregisterCheck("policy")
	if checker.GetCheck("policy") != nil {
		t.Error("policy check still registered")
	}
	if checker.CheckCount() != 1 {
		t.Errorf("CheckCount() = %d, want 1", checker.CheckCount())
	}
}

func TestCheckLiveness(t *testing.T) {
	fixed := time.Date(2026, 1, 20, 10, 30, 0, 0, time.UTC)
	checker := New(time.Second).WithService("armour-test")
	checker.clock = func() time.Time { return fixed }

	status := checker.CheckLiveness(context.Background())
	if status.Status != StatusHealthy {
		t.Errorf("Status = %q, want %q", status.Status, StatusHealthy)
	}
	if status.Service != "armour-test" {
		t.Errorf("Service = %q", status.Service)
	}
	if !status.Timestamp.Equal(fixed) {
		t.Errorf("Timestamp = %v, want %v", status.Timestamp, fixed)
	}
}

func TestCheckReadiness(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]CheckFunc
		wantStatus string
		unhealthy  []string
	}{
		{
			name:       "no checks",
			wantStatus: StatusReady,
		},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"policy":  PolicyCheck(func() string { return "abc" }),
				"archive": PingCheck(fakePinger{}),
			},
			wantStatus: StatusReady,
		},
		{
			name: "archive down",
			checks: map[string]CheckFunc{
				"policy":  PolicyCheck(func() string { return "abc" }),
				"archive": PingCheck(fakePinger{err: errors.New("database is locked")}),
			},
			wantStatus: StatusDegraded,
			unhealthy:  []string{"archive"},
		},
		{
			name: "no policy and backlog",
			checks: map[string]CheckFunc{
				"policy":  PolicyCheck(func() string { return "" }),
				"pending": BacklogCheck(func() int { return 11 }, 10),
			},
			wantStatus: StatusDegraded,
			unhealthy:  []string{"pending", "policy"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(time.Second)
			for name, fn := range tt.checks {
				checker.RegisterCheck(name, fn)
			}

			status := checker.CheckReadiness(context.Background())
			if status.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", status.Status, tt.wantStatus)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("got %d results, want %d", len(status.Checks), len(tt.checks))
			}

			var unhealthy []string
			for name, res := range status.Checks {
				if res.Status == CheckUnhealthy {
					if res.Message == "" {
						t.Errorf("%s: unhealthy result without message", name)
					}
					unhealthy = append(unhealthy, name)
				}
			}
			sort.Strings(unhealthy)
			if len(unhealthy) != len(tt.unhealthy) {
				t.Fatalf("unhealthy = %v, want %v", unhealthy, tt.unhealthy)
			}
			for i := range unhealthy {
				if unhealthy[i] != tt.unhealthy[i] {
					t.Errorf("unhealthy = %v, want %v", unhealthy, tt.unhealthy)
				}
			}
		})
	}
}

func TestCheckReadiness_AdvisoryDoesNotDegrade(t *testing.T) {
	checker := New(time.Second).WithPolicyVersion(func() string { return "9f2c" })
	checker.RegisterCheck("policy", PolicyCheck(func() string { return "9f2c" }))
	checker.RegisterAdvisory("pending", BacklogCheck(func() int { return 11 }, 10))

	status := checker.CheckReadiness(context.Background())
	if status.Status != StatusReady {
		t.Errorf("Status = %q, want %q", status.Status, StatusReady)
	}
	if status.PolicyVersion != "9f2c" {
		t.Errorf("PolicyVersion = %q, want 9f2c", status.PolicyVersion)
	}
	pending := status.Checks["pending"]
	if pending.Status != CheckUnhealthy || !pending.Advisory {
		t.Errorf("pending = %+v, want unhealthy advisory", pending)
	}
	if status.Checks["policy"].Advisory {
		t.Error("policy check reported as advisory")
	}
	if got := checker.CheckLiveness(context.Background()).PolicyVersion; got != "9f2c" {
		t.Errorf("liveness PolicyVersion = %q, want 9f2c", got)
	}
}

func TestCheckReadiness_Timeout(t *testing.T) {
	checker := New(50 * time.Millisecond)
	checker.RegisterCheck("slow", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	status := checker.CheckReadiness(context.Background())
	if status.Status != StatusDegraded {
		t.Errorf("Status = %q, want degraded", status.Status)
	}
	if got := status.Checks["slow"].Message; got != ErrCheckTimeout.Error() {
		t.Errorf("Message = %q, want timeout", got)
	}
}

func TestCheckReadiness_ContextCancellation(t *testing.T) {
	checker := New(5 * time.Second)
	checker.RegisterCheck("archive", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := checker.CheckReadiness(ctx).Checks["archive"].Status; got != CheckUnhealthy {
		t.Errorf("Status = %q, want unhealthy", got)
	}
}

func TestBacklogCheck_Disabled(t *testing.T) {
	check := BacklogCheck(func() int { return 1 << 20 }, 0)
	if err := check(context.Background()); err != nil {
		t.Errorf("disabled backlog check failed: %v", err)
	}
}

func TestHandlers(t *testing.T) {
	checker := New(time.Second)
	checker.RegisterCheck("archive", PingCheck(fakePinger{err: errors.New("closed")}))

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		method     string
		wantCode   int
		wantStatus string
		wantBody   bool
	}{
		{"liveness", checker.LivenessHandler(), http.MethodGet, http.StatusOK, StatusHealthy, true},
		{"liveness head", checker.LivenessHandler(), http.MethodHead, http.StatusOK, "", false},
		{"liveness post", checker.LivenessHandler(), http.MethodPost, http.StatusMethodNotAllowed, "", false},
		{"readiness degraded", checker.ReadinessHandler(), http.MethodGet, http.StatusServiceUnavailable, StatusDegraded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(tt.method, "/api/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if !tt.wantBody {
				return
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var body HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if body.Service != DefaultService {
				t.Errorf("service = %q, want %q", body.Service, DefaultService)
			}
		})
	}
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler(NewVersionInfo("1.2.0", "abc123", "2026-01-20"))(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Version != "1.2.0" || info.Commit != "abc123" || info.GoVersion == "" {
		t.Errorf("unexpected version info %+v", info)
	}
}
