// Package scope turns verified identity claims into the authorization scope
// that every data access is evaluated against.
package scope

import (
	"context"
	"strings"

	dErrors "gridsync/pkg/domain-errors"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleManager   Role = "manager"
	RoleExecutor  Role = "executor"
	RoleInspector Role = "inspector"
)

func (r Role) valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleExecutor, RoleInspector:
		return true
	}
	return false
}

// Claims is the identity payload carried by a verified token.
type Claims struct {
	ActorID    int64
	Login      string
	Role       string
	RegionID   *int64
	DistrictID *int64
}

// Scope is the immutable authorization context of one request or one
// WebSocket connection.
type Scope struct {
	ActorID    int64  `json:"id"`
	Login      string `json:"login"`
	Role       Role   `json:"role"`
	RegionID   *int64 `json:"region_id,omitempty"`
	DistrictID *int64 `json:"district_id,omitempty"`
}

// Resolve validates claims and builds a Scope. Admins are unrestricted; every
// other role must carry a district.
func Resolve(c Claims) (Scope, error) {
	if c.ActorID <= 0 {
		return Scope{}, dErrors.New(dErrors.CodeInvalidClaim, "token is missing the actor id")
	}
	role := Role(strings.ToLower(strings.TrimSpace(c.Role)))
	if role == "" {
		return Scope{}, dErrors.New(dErrors.CodeInvalidClaim, "token is missing the role")
	}
	if !role.valid() {
		return Scope{}, dErrors.New(dErrors.CodeInvalidClaim, "token carries an unknown role")
	}
	if role != RoleAdmin && (c.DistrictID == nil || *c.DistrictID <= 0) {
		return Scope{}, dErrors.New(dErrors.CodeInvalidClaim, "token is missing the district")
	}

	s := Scope{
		ActorID: c.ActorID,
		Login:   c.Login,
		Role:    role,
	}
	if c.RegionID != nil {
		region := *c.RegionID
		s.RegionID = &region
	}
	if c.DistrictID != nil {
		district := *c.DistrictID
		s.DistrictID = &district
	}
	return s, nil
}

func (s Scope) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// District returns the district a non-admin scope is restricted to.
func (s Scope) District() (int64, bool) {
	if s.IsAdmin() || s.DistrictID == nil {
		return 0, false
	}
	return *s.DistrictID, true
}

// CanSee reports whether a row in districtID is visible under this scope.
func (s Scope) CanSee(districtID int64) bool {
	if s.IsAdmin() {
		return true
	}
	d, ok := s.District()
	return ok && d == districtID
}

type ctxKey struct{}

// WithContext stores a resolved scope in ctx.
func WithContext(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the scope stored by the auth middleware.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	return s, ok
}
