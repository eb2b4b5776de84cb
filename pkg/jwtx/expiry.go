package jwtx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoExpiry = errors.New("jwtx: token has no exp claim")

// TokenExpiry reads the exp claim of a provider access token without
// verifying its signature. Provider tokens are opaque to us; the claim is
// only used to stop using a token before the provider starts rejecting it.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.UTC(), nil
}
