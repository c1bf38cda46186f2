// Package token reads the viewer identity out of the hub access token.
//
// The daemon is a client of the hub, not its issuer: it never holds the
// signing key, so claims are read without verification. The hub verifies
// the token on every connection.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoIdentity is returned when the token carries none of the identity claims.
var ErrNoIdentity = errors.New("token has no identity claim")

// identityClaims lists the claim names checked for the viewer identity, in order.
var identityClaims = []string{"nickname", "unique_name", "preferred_username", "sub"}

// Info is what the daemon learns from an access token.
type Info struct {
	Viewer    string
	ExpiresAt time.Time
}

// Expired reports whether the token expiry has passed at now. A token without expiry never expires.
func (i Info) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Parse decodes an access token and extracts the viewer identity.
func Parse(accessToken string) (Info, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return Info{}, fmt.Errorf("parse access token: %w", err)
	}

	var info Info
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	for _, name := range identityClaims {
		if v, ok := claims[name].(string); ok && v != "" {
			info.Viewer = v
			return info, nil
		}
	}
	return info, ErrNoIdentity
}

// Viewer returns the configured viewer, falling back to the identity in accessToken.
func Viewer(configured, accessToken string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if accessToken == "" {
		return "", errors.New("no viewer configured and no access token to read it from")
	}
	info, err := Parse(accessToken)
	if err != nil {
		return "", err
	}
	return info.Viewer, nil
}
