// Package utils holds small helpers shared by the commands and tests.
package utils

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed staff JWT and its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// NewAccessToken signs an HS256 token for a staff member.  The claims are
// the ones middleware.JWTAuth reads back: sub, role, complex_id, exp and
// iat.  complexID binds an OWNER to one complex and is omitted when zero.
// now is the issue instant, so expired tokens can be minted for tests.
func NewAccessToken(secret string, userID uint64, role string, complexID uint64, ttl time.Duration, now time.Time) (AccessToken, error) {
	exp := now.UTC().Add(ttl)
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.UTC().Unix(),
	}
	if complexID != 0 {
		claims["complex_id"] = complexID
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}
