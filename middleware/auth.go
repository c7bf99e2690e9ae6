package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yashasviy/peer-transfer-api/models"
	"github.com/yashasviy/peer-transfer-api/session"
	"github.com/yashasviy/peer-transfer-api/telemetry"
)

const (
	// AuthorizationHeader carries "Bearer <token>".
	AuthorizationHeader = "Authorization"

	bearerPrefix = "Bearer "
)

// Resolver maps a session token to the identity it was issued for. Unknown
// or expired tokens are session.ErrNotFound.
type Resolver interface {
	Resolve(ctx context.Context, token string) (models.CallerIdentity, error)
}

type callerKey struct{}

// WithCaller returns a copy of ctx carrying caller.
func WithCaller(ctx context.Context, caller models.CallerIdentity) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the identity stored by Authenticate, or the zero
// (unauthenticated) identity.
func CallerFrom(ctx context.Context) models.CallerIdentity {
	caller, _ := ctx.Value(callerKey{}).(models.CallerIdentity)
	return caller
}

// BearerToken extracts the token of the Authorization header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get(AuthorizationHeader)
	if len(h) < len(bearerPrefix) || !strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(h[len(bearerPrefix):])
}

// Authenticate resolves the bearer token once per request and stores the
// caller in the request context. Requests without a valid session never
// reach next.
func Authenticate(resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				telemetry.AuthFailures.WithLabelValues("missing_token").Inc()
				writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
				return
			}

			caller, err := resolver.Resolve(r.Context(), token)
			switch {
			case errors.Is(err, session.ErrNotFound):
				telemetry.AuthFailures.WithLabelValues("invalid_token").Inc()
				writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid or expired session")
				return
			case err != nil:
				telemetry.AuthFailures.WithLabelValues("store_error").Inc()
				logger.ErrorContext(r.Context(), "session lookup failed", slog.Any("error", err))
				writeError(w, http.StatusInternalServerError, "internal", "internal server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.Response{
		Status:  "error",
		Message: msg,
		Error:   &models.ErrorBody{Kind: kind, Message: msg},
	})
}
