package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"gridsync/internal/scope"
	dErrors "gridsync/pkg/domain-errors"
	"gridsync/pkg/platform/httputil"
)

// TokenValidator verifies a bearer token and returns its identity claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (scope.Claims, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// RequireAuth verifies the bearer token, resolves the caller's scope once and
// stores it in the request context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestID(ctx)

			token, ok := BearerToken(r)
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}

			sc, err := scope.Resolve(claims)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid claim",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(scope.WithContext(ctx, sc)))
		})
	}
}

// RequireRole rejects callers whose scope role is not one of roles. It must run
// after RequireAuth.
func RequireRole(logger *slog.Logger, roles ...scope.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sc, ok := scope.FromContext(ctx)
			if !ok {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
				return
			}
			for _, role := range roles {
				if sc.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			logger.WarnContext(ctx, "forbidden - role not allowed",
				"request_id", GetRequestID(ctx),
				"actor_id", sc.ActorID,
				"role", sc.Role,
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "insufficient role"))
		})
	}
}
