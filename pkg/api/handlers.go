package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"armouriq/armour/pkg/approval"
	"armouriq/armour/pkg/archive"
	"armouriq/armour/pkg/security/auth"
	"armouriq/armour/pkg/telemetry/logging"
	"armouriq/armour/pkg/trace"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// TraceList is the response of GET /api/traces.
type TraceList struct {
	Traces []*trace.Trace `json:"traces"`
	Total  int64          `json:"total"`
}

// TraceView is the response of GET /api/traces/{id}. Pending is set for a
// trace still parked waiting for answers.
type TraceView struct {
	*trace.Trace
	Pending bool `json:"pending,omitempty"`
}

// handleExecute runs POST /api/execute. A finished or parked trace is always
// rendered as 200, including blocked and failed outcomes; only requests that
// never produced a trace, or whose trace was abandoned, get an error
// envelope.
func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req trace.Request
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.pipeline.Execute(ctx, req)
	if res != nil {
		if err != nil {
			h.logger.WarnContext(ctx, "trace finished with collaborator error",
				"execution_id", res.ExecutionID,
				"error", err,
			)
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	h.fail(w, r, err)
}

func (h *Handler) handlePolicy(w http.ResponseWriter, r *http.Request) {
	set := h.policies.RuleSet()
	if set == nil {
		writeError(w, http.StatusServiceUnavailable, CodeInternal, "no policy loaded", "")
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (h *Handler) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionID")

	// A parked trace is newer than its archived copy.
	if t, ok := h.pipeline.Pending(id); ok {
		writeJSON(w, http.StatusOK, TraceView{Trace: t, Pending: true})
		return
	}
	if h.traces == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "trace not found", "")
		return
	}
	t, err := h.traces.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TraceView{Trace: t})
}

func (h *Handler) handleListTraces(w http.ResponseWriter, r *http.Request) {
	if h.traces == nil {
		writeError(w, http.StatusNotImplemented, CodeNotFound, "trace archive not configured", "")
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error(), "")
		return
	}

	ctx := r.Context()
	traces, err := h.traces.List(ctx, q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	countQ := *q
	countQ.Limit, countQ.Offset = 0, 0
	total, err := h.traces.Count(ctx, &countQ)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if traces == nil {
		traces = []*trace.Trace{}
	}
	writeJSON(w, http.StatusOK, TraceList{Traces: traces, Total: total})
}

func (h *Handler) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if h.approvals == nil {
		h.fail(w, r, trace.ErrApprovalsDisabled)
		return
	}
	pending, err := h.approvals.ListPending(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if pending == nil {
		pending = []*approval.Approval{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": pending})
}

func (h *Handler) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	if h.approvals == nil {
		h.fail(w, r, trace.ErrApprovalsDisabled)
		return
	}
	a, err := h.approvals.Get(r.Context(), chi.URLParam(r, "approvalID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	var d approval.Decision
	if !h.decode(w, r, &d) {
		return
	}
	if principal := auth.Principal(r.Context()); principal != "" {
		if d.Approver != "" && d.Approver != principal {
			writeError(w, http.StatusForbidden, CodeForbidden, "approver must match the authenticated principal", "")
			return
		}
		d.Approver = principal
	}
	if d.Approver == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "approver is required", "")
		return
	}

	ctx := logging.WithApprover(r.Context(), d.Approver)
	res, err := h.pipeline.ResolveApproval(ctx, chi.URLParam(r, "approvalID"), d)
	if err != nil {
		h.fail(w, r.WithContext(ctx), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, CodeBadRequest, "request body too large", "")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, CodeBadRequest, "request body is empty", "")
		default:
			writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON: "+err.Error(), "")
		}
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := classify(err)
	if status >= 500 {
		h.logger.ErrorContext(r.Context(), "request failed", "code", code, "error", err)
	}
	writeError(w, status, code, msg, executionIDOf(err))
}

func parseQuery(r *http.Request) (*archive.Query, error) {
	v := r.URL.Query()
	q := &archive.Query{
		Status:  trace.Status(v.Get("status")),
		Outcome: v.Get("outcome"),
		Limit:   defaultListLimit,
	}
	if ids, ok := v["execution_id"]; ok {
		q.ExecutionIDs = ids
	}

	var err error
	if s := v.Get("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil || q.Limit < 1 {
			return nil, fmt.Errorf("limit must be a positive integer")
		}
		if q.Limit > maxListLimit {
			q.Limit = maxListLimit
		}
	}
	if s := v.Get("offset"); s != "" {
		if q.Offset, err = strconv.Atoi(s); err != nil || q.Offset < 0 {
			return nil, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	if q.StartTime, err = parseTime(v.Get("since")); err != nil {
		return nil, fmt.Errorf("since: %w", err)
	}
	if q.EndTime, err = parseTime(v.Get("until")); err != nil {
		return nil, fmt.Errorf("until: %w", err)
	}
	return q, nil
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
