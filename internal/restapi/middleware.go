package restapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"ratchet/internal/logging"
	"ratchet/internal/task"
)

type securityContextKey struct{}

// SecurityContextFromRequest returns the SecurityContext BearerAuthMiddleware
// attached to r, or a zero-value one if the middleware wasn't applied.
func SecurityContextFromRequest(r *http.Request) task.SecurityContext {
	if sc, ok := r.Context().Value(securityContextKey{}).(task.SecurityContext); ok {
		return sc
	}
	return task.SecurityContext{}
}

// BearerAuthMiddleware rejects requests missing a valid `Authorization:
// Bearer <token>` header and otherwise populates the request context
// with a SecurityContext for the remaining handler chain. token is the
// single shared secret collaborators authenticate with, per spec §2.3's
// rest_bearer_token; an empty token disables auth (local/dev use).
// Grounded on the teacher's middleware chaining shape
// (internal/delivery/server/http/middleware_logging.go), generalized
// from request-ID stamping to bearer-token authentication.
func BearerAuthMiddleware(token string, permissions []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				header := r.Header.Get("Authorization")
				const prefix = "Bearer "
				if !strings.HasPrefix(header, prefix) || strings.TrimPrefix(header, prefix) != token {
					writeJSONError(w, http.StatusUnauthorized, "missing or invalid bearer token", nil)
					return
				}
			}
			sc := task.SecurityContext{
				ClientID:        clientIDFromRequest(r),
				Permissions:     permissions,
				RequestID:       requestIDFromRequest(r),
				AuthenticatedAt: time.Now(),
			}
			ctx := context.WithValue(r.Context(), securityContextKey{}, sc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIDFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Client-Id")); v != "" {
		return v
	}
	return "rest-client"
}

func requestIDFromRequest(r *http.Request) string {
	for _, header := range []string{"X-Request-Id", "X-Correlation-Id"} {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
	}
	return ""
}

// LoggingMiddleware logs method, path, and remote address for every
// request, mirroring the teacher's LoggingMiddleware.
func LoggingMiddleware(logger *logging.ComponentLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Info("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
			next.ServeHTTP(w, r)
		})
	}
}
