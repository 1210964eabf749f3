package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "gridsync/pkg/domain-errors"
)

var jwtService = NewJWTService("test-signing-key", "test-issuer")

func district(v int64) *int64 { return &v }

var manager = Identity{
	ActorID:    42,
	Login:      "ivanova",
	Role:       "manager",
	RegionID:   district(1),
	DistrictID: district(7),
}

func Test_GenerateAccessToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(manager, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.ActorID)
	assert.Equal(t, "ivanova", claims.Login)
	assert.Equal(t, "manager", claims.Role)
	require.NotNil(t, claims.DistrictID)
	assert.Equal(t, int64(7), *claims.DistrictID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(manager, -time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "token has expired"))
}

func Test_ValidateToken_WrongKey(t *testing.T) {
	other := NewJWTService("another-key", "test-issuer")
	token, err := other.GenerateAccessToken(manager, time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
}

func Test_ValidateToken_WrongIssuer(t *testing.T) {
	other := NewJWTService("test-signing-key", "someone-else")
	token, err := other.GenerateAccessToken(manager, time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.Error(t, err)
}

func Test_ValidateToken_RejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ActorID: 1, Role: "admin"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(signed)
	require.Error(t, err)
}

func Test_ScopeValidator(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(manager, time.Hour)
	require.NoError(t, err)

	claims, err := NewScopeValidator(jwtService).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.ActorID)
	assert.Equal(t, "manager", claims.Role)
	assert.Equal(t, int64(7), *claims.DistrictID)
}
