package jwttoken

import (
	"gridsync/internal/scope"
)

// ToScopeClaims maps token claims onto the scope resolver's input.
func ToScopeClaims(claims *Claims) scope.Claims {
	return scope.Claims{
		ActorID:    claims.ActorID,
		Login:      claims.Login,
		Role:       claims.Role,
		RegionID:   claims.RegionID,
		DistrictID: claims.DistrictID,
	}
}

// ScopeValidator verifies a token and returns the identity claims the scope
// resolver consumes. It satisfies middleware.TokenValidator and
// ws.TokenValidator.
type ScopeValidator struct {
	service *JWTService
}

func NewScopeValidator(service *JWTService) *ScopeValidator {
	return &ScopeValidator{service: service}
}

func (a *ScopeValidator) ValidateToken(tokenString string) (scope.Claims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return scope.Claims{}, err
	}
	return ToScopeClaims(claims), nil
}
