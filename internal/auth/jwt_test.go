package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTValidatorRoundTrip(t *testing.T) {
	v := NewJWTValidator("secret")
	token, err := v.IssueToken(42, time.Minute)
	require.NoError(t, err)

	userID, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 42, userID)
}

func TestJWTValidatorRejects(t *testing.T) {
	v := NewJWTValidator("secret")

	expired, err := v.IssueToken(42, -time.Minute)
	require.NoError(t, err)
	foreign, err := NewJWTValidator("other").IssueToken(42, time.Minute)
	require.NoError(t, err)
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Minute).Unix()}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":   expired,
		"signature": foreign,
		"no user":   noUser,
		"garbage":   "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.ValidateToken(context.Background(), token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
