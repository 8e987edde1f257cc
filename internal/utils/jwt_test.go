package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAccessToken(t *testing.T) {
	tok, err := NewAccessToken("s3cret", "seat-pools", "svc:lms", "manager", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Exp, 5*time.Second)

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tok.Token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)
	assert.Equal(t, "svc:lms", claims["sub"])
	assert.Equal(t, RoleManager, claims["role"])
	assert.Equal(t, "seat-pools", claims["iss"])
	assert.Len(t, claims["jti"], 32)
}

func TestNewAccessTokenRejectsBadInput(t *testing.T) {
	_, err := NewAccessToken("", "", "svc", RoleAdmin, time.Hour)
	assert.Error(t, err)
	_, err = NewAccessToken("s", "", " ", RoleAdmin, time.Hour)
	assert.Error(t, err)
	_, err = NewAccessToken("s", "", "svc", RoleAdmin, 0)
	assert.Error(t, err)
}
