package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// APIKeySource defines where to extract API keys from.
type APIKeySource struct {
	Type   string // header, query
	Name   string // Header name or query param
	Scheme string // "Bearer", etc. (optional)
}

// DefaultSources accepts "Authorization: Bearer <key>" and "X-API-Key: <key>".
var DefaultSources = []APIKeySource{
	{Type: "header", Name: "Authorization", Scheme: "Bearer"},
	{Type: "header", Name: "X-API-Key"},
}

// ErrorHandler writes the response for a rejected request. err is one of
// ErrMissingKey, ErrInvalidKey, ErrKeyDisabled or ErrForbidden.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// APIKeyMiddleware is HTTP middleware for API key authentication.
type APIKeyMiddleware struct {
	store   APIKeyStore
	sources []APIKeySource
	onError ErrorHandler
	logger  *slog.Logger
}

// NewAPIKeyMiddleware creates a new API key authentication middleware. A
// nil onError answers with a plain-text 401 or 403.
func NewAPIKeyMiddleware(store APIKeyStore, sources []APIKeySource, onError ErrorHandler, logger *slog.Logger) *APIKeyMiddleware {
	if len(sources) == 0 {
		sources = DefaultSources
	}
	if onError == nil {
		onError = plainError
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyMiddleware{
		store:   store,
		sources: sources,
		onError: onError,
		logger:  logger.With("component", "auth"),
	}
}

// Authenticate rejects requests without a valid key and stores the key info
// in the request context.
func (m *APIKeyMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := m.store.Validate(m.extractAPIKey(r))
		if err != nil {
			m.logger.WarnContext(r.Context(), "authentication failed",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			m.onError(w, r, err)
			return
		}

		m.logger.DebugContext(r.Context(), "API key authenticated",
			"principal", info.Principal,
			"path", r.URL.Path,
		)
		next.ServeHTTP(w, r.WithContext(WithAPIKeyInfo(r.Context(), info)))
	})
}

// Require rejects authenticated requests whose key lacks role. It must run
// after Authenticate.
func (m *APIKeyMiddleware) Require(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := GetAPIKeyInfo(r.Context())
			if !ok || !info.Has(role) {
				principal := ""
				if ok {
					principal = info.Principal
				}
				m.logger.WarnContext(r.Context(), "permission denied",
					"principal", principal,
					"role", string(role),
					"path", r.URL.Path,
				)
				m.onError(w, r, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractAPIKey returns the first key found in the configured sources.
func (m *APIKeyMiddleware) extractAPIKey(r *http.Request) string {
	for _, source := range m.sources {
		switch source.Type {
		case "header":
			value := r.Header.Get(source.Name)
			if value == "" {
				continue
			}
			if source.Scheme == "" {
				return value
			}
			prefix := source.Scheme + " "
			if len(value) > len(prefix) && strings.EqualFold(value[:len(prefix)], prefix) {
				return strings.TrimSpace(value[len(prefix):])
			}

		case "query":
			if value := r.URL.Query().Get(source.Name); value != "" {
				return value
			}
		}
	}
	return ""
}

func plainError(w http.ResponseWriter, _ *http.Request, err error) {
	status := http.StatusUnauthorized
	if errors.Is(err, ErrForbidden) {
		status = http.StatusForbidden
	}
	http.Error(w, err.Error(), status)
}

type contextKey string

// #nosec G101 - This is a context key constant, not a credential
const apiKeyInfoKey contextKey = "api_key_info"

// WithAPIKeyInfo stores info in ctx.
func WithAPIKeyInfo(ctx context.Context, info *APIKeyInfo) context.Context {
	return context.WithValue(ctx, apiKeyInfoKey, info)
}

// GetAPIKeyInfo retrieves API key info from request context.
func GetAPIKeyInfo(ctx context.Context) (*APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyInfoKey).(*APIKeyInfo)
	return info, ok
}

// Principal returns the authenticated principal, or "" when the request
// was not authenticated.
func Principal(ctx context.Context) string {
	if info, ok := GetAPIKeyInfo(ctx); ok {
		return info.Principal
	}
	return ""
}
