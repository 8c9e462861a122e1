package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "type" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// ErrMalformed is returned when a token cannot be decoded at all.
var ErrMalformed = errors.New("malformed token")

// Claims are the session claims Quest tokens carry.
type Claims struct {
	Type string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// Inspect decodes token without verifying its signature. The result is
// advisory: it tells the client who the token names and when it lapses.
func Inspect(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformed
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	return claims, nil
}

// Subject returns the "sub" claim.
func (c *Claims) Subject() string {
	if c == nil {
		return ""
	}
	return c.RegisteredClaims.Subject
}

// Expiry returns the "exp" claim, or the zero time if absent.
func (c *Claims) Expiry() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// ExpiredAt reports whether the token has lapsed at now, allowing skew. Tokens
// without an expiry never lapse.
func (c *Claims) ExpiredAt(now time.Time, skew time.Duration) bool {
	exp := c.Expiry()
	if exp.IsZero() {
		return false
	}
	return !now.Before(exp.Add(skew))
}
