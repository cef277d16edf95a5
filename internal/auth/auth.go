// Package auth verifies the RS256 bearer token clients present on
// authenticate. When no public key is configured (development mode),
// the raw token string is taken as the userId instead, matching the
// protocol's explicit development-mode fallback.
//
// Grounded on louisbranch-fracturing.space's join-grant verifier
// (internal/services/game/domain/campaign/invite/join_grant.go): parse
// with an explicit claims struct, pin the allowed signing method, and
// translate library errors into this service's own classification
// rather than leaking them.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// claims is the minimal shape the protocol requires: a single string
// field named "id". Anything else in the token is ignored.
type claims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

// Verifier verifies a bearer token and returns the userId it identifies.
type Verifier struct {
	publicKey *rsa.PublicKey // nil means development mode
}

// NewVerifier builds a Verifier from a PEM-encoded RSA public key. A nil
// or empty pemBytes puts the verifier into development mode, where
// Verify treats the token string itself as the userId.
func NewVerifier(pemBytes []byte) (*Verifier, error) {
	if len(pemBytes) == 0 {
		return &Verifier{}, nil
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse BACKEND_PUBLIC_KEY: %w", err)
	}
	return &Verifier{publicKey: key}, nil
}

// DevMode reports whether this verifier is running without a configured
// public key.
func (v *Verifier) DevMode() bool { return v.publicKey == nil }

// Verify returns the userId carried by token, or an error if the token
// is malformed, wrongly signed, or missing the required id claim. In
// development mode it returns the token string unchanged, except that an
// empty token is rejected.
func (v *Verifier) Verify(token string) (string, error) {
	if v.publicKey == nil {
		if token == "" {
			return "", errors.New("empty token")
		}
		return token, nil
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if parsed.ID == "" {
		return "", errors.New("token is missing required id claim")
	}
	return parsed.ID, nil
}
