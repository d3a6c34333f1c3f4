// Package health serves liveness, readiness and version endpoints.
//
// Liveness only says the process is running. Readiness runs every
// registered check concurrently, each under its own timeout, and answers
// 503 when any of them fails:
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("policy", health.PolicyCheck(versionFn))
//	checker.RegisterCheck("archive", health.PingCheck(store))
//	checker.RegisterCheck("pending", health.BacklogCheck(orch.PendingCount, 1000))
//
// The handlers are plain http.HandlerFuncs and are mounted by pkg/api.
package health
