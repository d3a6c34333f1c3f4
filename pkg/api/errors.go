package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"armouriq/armour/pkg/approval"
	"armouriq/armour/pkg/archive"
	"armouriq/armour/pkg/limits/ratelimit"
	"armouriq/armour/pkg/questionnaire"
	"armouriq/armour/pkg/security/auth"
	"armouriq/armour/pkg/trace"
)

// Error codes returned in the "error" field of a failed response.
const (
	CodeBadRequest        = "bad_request"
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeGone              = "gone"
	CodeTimeout           = "collaborator_timeout"
	CodeAbandoned         = "trace_abandoned"
	CodeApprovalsDisabled = "approvals_disabled"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal_error"
)

// ErrorResponse is the envelope of every non-2xx response.
type ErrorResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// classify maps a pipeline error onto a status and code. Internal errors
// never expose their message.
func classify(err error) (int, string, string) {
	var stageErr *trace.StageError
	var answerErr *questionnaire.InvalidAnswerError
	switch {
	case errors.Is(err, trace.ErrEmptyRequest), errors.As(err, &answerErr):
		return http.StatusBadRequest, CodeBadRequest, err.Error()
	case errors.Is(err, trace.ErrUnknownExecution),
		errors.Is(err, archive.ErrNotFound),
		errors.Is(err, approval.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, err.Error()
	case errors.Is(err, approval.ErrAlreadyResolved):
		return http.StatusConflict, CodeConflict, err.Error()
	case errors.Is(err, trace.ErrPendingExpired):
		return http.StatusGone, CodeGone, err.Error()
	case errors.Is(err, trace.ErrApprovalsDisabled):
		return http.StatusNotImplemented, CodeApprovalsDisabled, err.Error()
	case trace.IsTimeout(err):
		return http.StatusGatewayTimeout, CodeTimeout, "an external collaborator did not answer in time"
	case errors.As(err, &stageErr):
		return http.StatusServiceUnavailable, CodeAbandoned, "the trace was abandoned"
	default:
		return http.StatusInternalServerError, CodeInternal, "an internal error occurred"
	}
}

// authError renders authentication failures. The reason a key was refused
// is logged, not returned.
func authError(w http.ResponseWriter, _ *http.Request, err error) {
	if errors.Is(err, auth.ErrForbidden) {
		writeError(w, http.StatusForbidden, CodeForbidden, err.Error(), "")
		return
	}
	writeError(w, http.StatusUnauthorized, CodeUnauthorized, "a valid API key is required", "")
}

func rateLimited(w http.ResponseWriter, _ *http.Request, res *ratelimit.CheckResult) {
	writeError(w, http.StatusTooManyRequests, CodeRateLimited, res.Reason, "")
}

func executionIDOf(err error) string {
	var stageErr *trace.StageError
	if errors.As(err, &stageErr) {
		return stageErr.ExecutionID
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, code, message, executionID string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message, ExecutionID: executionID})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
