// Package admin guards operator endpoints with a shared token.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"verigate/pkg/requestcontext"
)

// HeaderOperator names the operator acting on the request. It is recorded as
// the audit actor.
const HeaderOperator = "X-Operator"

// RequireAdminToken rejects requests whose bearer token does not match
// expectedToken. Accepted requests carry "operator:<name>" as their actor.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			// Use constant-time comparison to prevent timing attacks
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"admin token required"}`))
				return
			}

			operator := strings.TrimSpace(r.Header.Get(HeaderOperator))
			if operator == "" {
				operator = "unknown"
			}
			ctx := requestcontext.WithActor(r.Context(), "operator:"+operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
