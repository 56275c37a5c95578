package services

import (
	"context"
	"testing"
	"time"

	"callnet/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)

	token, err := auth.GenerateToken("alice", "Alice")
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), claims.UserID)
	assert.Equal(t, "Alice", claims.Username)
	assert.Equal(t, "alice", claims.Subject)
}

func TestAuthService_Rejects(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)

	other, err := NewAuthService("other-secret", time.Hour).GenerateToken("alice", "")
	require.NoError(t, err)
	_, err = auth.ValidateToken(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = auth.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewAuthService("secret", -time.Minute).GenerateToken("alice", "")
	require.NoError(t, err)
	_, err = auth.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = auth.ValidateToken(anonymous)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_UserFromContext(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)

	_, err := auth.GetUserFromContext(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	user, err := auth.GetUserFromContext(WithUser(context.Background(), "bob"))
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("bob"), user)
}

func TestTokenIdentity(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)
	token, err := auth.GenerateToken("carol", "")
	require.NoError(t, err)

	id, err := NewTokenIdentity(auth, token)
	require.NoError(t, err)
	user, err := id.CurrentUserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("carol"), user)
	assert.Equal(t, token, id.Token())

	_, err = NewTokenIdentity(auth, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
