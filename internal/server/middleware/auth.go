package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tallycrm/tally/internal/model"
	"github.com/tallycrm/tally/internal/service"
)

// DefaultAPIKeyHeader carries API keys unless configured otherwise.
const DefaultAPIKeyHeader = "X-API-Key"

type principalKey struct{}

// Authenticator resolves credentials to a principal. *service.AuthService
// satisfies it.
type Authenticator interface {
	AuthenticateKey(ctx context.Context, rawKey string) (model.Principal, error)
	AuthenticateSession(ctx context.Context, token string) (model.Principal, error)
}

// FailureRecorder counts rejected credentials by reason.
type FailureRecorder func(reason string)

// AuthConfig configures Authenticate.
type AuthConfig struct {
	Header    string // API key header; DefaultAPIKeyHeader when empty
	Logger    *slog.Logger
	OnFailure FailureRecorder
}

// Authenticate returns an HTTP middleware that resolves the request's
// credential. It supports two methods:
//
//  1. API key via the configured header (default X-API-Key)
//  2. Session JWT via "Authorization: Bearer <token>"
//
// On success the Principal is attached to the request context. Missing,
// invalid and expired credentials all get the same 401 body; the actual
// reason is only logged. Storage failures get a 500.
func Authenticate(auth Authenticator, cfg AuthConfig) func(http.Handler) http.Handler {
	header := cfg.Header
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				principal model.Principal
				err       error
			)
			if key := r.Header.Get(header); key != "" {
				principal, err = auth.AuthenticateKey(r.Context(), key)
			} else if token, ok := bearerToken(r); ok {
				principal, err = auth.AuthenticateSession(r.Context(), token)
			} else {
				err = service.ErrMissingCredential
			}

			if err != nil {
				reason := failureReason(err)
				if cfg.OnFailure != nil {
					cfg.OnFailure(reason)
				}
				if service.IsUnauthorized(err) {
					logger.Warn("authentication rejected",
						"reason", reason,
						"detail", err.Error(),
						"request_id", GetRequestID(r.Context()),
						"remote_addr", r.RemoteAddr,
					)
					writeJSONError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				logger.Error("authentication unavailable",
					"error", err,
					"request_id", GetRequestID(r.Context()),
				)
				writeJSONError(w, http.StatusInternalServerError, "authentication unavailable")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireRole returns an HTTP middleware that rejects principals ranked
// below min with 403. It must be used after Authenticate.
func RequireRole(min model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !p.Role.AtLeast(min) {
				writeJSONError(w, http.StatusForbidden, string(min)+" role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated principal, if any.
func PrincipalFrom(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(model.Principal)
	return p, ok
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, service.ErrMissingCredential):
		return "missing"
	case errors.Is(err, service.ErrExpiredCredential):
		return "expired"
	case errors.Is(err, service.ErrInvalidCredential):
		return "invalid"
	default:
		return "unavailable"
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{Error: message}) //nolint:errcheck
}
