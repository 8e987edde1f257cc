// Package utils mints the bearer tokens accepted by the HTTP API.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles recognised by the API.  ADMIN and MANAGER may run commands; any
// role may read.
const (
	RoleAdmin   = "ADMIN"
	RoleManager = "MANAGER"
	RoleViewer  = "VIEWER"
)

// AccessToken is a signed JWT along with its expiry.
type AccessToken struct {
	Token string    `json:"token"`
	Exp   time.Time `json:"expires_at"`
}

// NewAccessToken builds and signs an HS256 JWT for a service or operator.
// The claims are sub, role, iss (when issuer is set), jti, exp and iat.
func NewAccessToken(secret, issuer, subject, role string, ttl time.Duration) (AccessToken, error) {
	if secret == "" {
		return AccessToken{}, errors.New("empty signing secret")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return AccessToken{}, errors.New("empty subject")
	}
	if ttl <= 0 {
		return AccessToken{}, errors.New("ttl must be positive")
	}
	jti, err := randomHex(16)
	if err != nil {
		return AccessToken{}, err
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": strings.ToUpper(role),
		"jti":  jti,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// randomHex returns n random bytes encoded as hex.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
