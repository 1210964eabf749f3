package testutil

import (
	"context"
	"net/http"

	"gridsync/internal/scope"
)

// WithScope attaches a resolved scope to the request context, as the auth
// middleware would for an authenticated request.
func WithScope(req *http.Request, sc scope.Scope) *http.Request {
	return req.WithContext(scope.WithContext(req.Context(), sc))
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}

// AdminScope returns an unrestricted scope.
func AdminScope() scope.Scope {
	return scope.Scope{ActorID: 1, Login: "admin", Role: scope.RoleAdmin}
}

// ManagerScope returns a manager restricted to districtID.
func ManagerScope(districtID int64) scope.Scope {
	return ScopeFor(100+districtID, "manager", scope.RoleManager, districtID)
}

// ScopeFor builds a district-restricted scope.
func ScopeFor(actorID int64, login string, role scope.Role, districtID int64) scope.Scope {
	d := districtID
	return scope.Scope{ActorID: actorID, Login: login, Role: role, DistrictID: &d}
}
