package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthServiceRoundTrip(t *testing.T) {
	svc := NewAuthService("secret")

	token, err := svc.IssueToken("user-a", "alice", time.Hour)
	require.NoError(t, err)

	identity, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-a", identity.UserID)
	assert.Equal(t, "alice", identity.Username)
}

func TestAuthServiceRejects(t *testing.T) {
	svc := NewAuthService("secret")

	other, err := NewAuthService("other").IssueToken("user-a", "alice", time.Hour)
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "user-a",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	anonymous, err := svc.IssueToken("", "nobody", time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"id": "user-a"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"wrong secret", other},
		{"expired", expired},
		{"missing user id", anonymous},
		{"unsigned", none},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Verify(tc.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
