// Package logging configures log/slog for the service.
//
// New builds a *slog.Logger whose handler does two things on top of the
// JSON or text handler underneath:
//
//   - adds execution_id, request_id and approver from the context passed to
//     the *Context logging methods (see WithExecutionID)
//   - masks sensitive fields when redaction is enabled: anything logged
//     under a key such as "signature" or "signing_secret", hex HMACs,
//     bearer tokens, email addresses and card numbers
//
// Components take a *slog.Logger and tag it once:
//
//	logger = logger.With("component", "trace.orchestrator")
package logging
