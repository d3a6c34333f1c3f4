// Package api exposes the governance pipeline over HTTP.
//
// Routes (github.com/go-chi/chi/v5):
//
//	POST /api/execute               run or resume a trace
//	GET  /api/policy                loaded rule set snapshot
//	GET  /api/health                liveness
//	GET  /api/ready                 readiness checks
//	GET  /api/version               build information
//	GET  /api/traces                archived traces (status, outcome, since, until, limit, offset)
//	GET  /api/traces/{id}           one trace; parked traces come from memory
//	GET  /api/approvals             pending approvals
//	GET  /api/approvals/{id}        one approval
//	POST /api/approvals/{id}        resolve with {"approve", "approver", "comment"}
//	GET  /metrics                   Prometheus exposition
//
// Every policy outcome, including BLOCKED and FAILED traces, is a 200 with
// the trace. Errors use the envelope {"error", "message", "execution_id"}
// and never carry internal error text.
//
// With an API key store configured, every route except health, readiness,
// version and metrics requires a key: execute needs the "execute" role,
// reads need "read" and resolving an approval needs "approve". The key's
// principal is recorded as the approver. With a limiter configured, the two
// POST routes are throttled per principal, or per remote IP without auth.
package api
