// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// probeClaims carries a username alongside the standard registered
// claims; this probe has no use for a role claim.
type probeClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// jwtAuthenticator implements request.Authenticator by minting a fresh
// HS256 bearer token per connection attempt rather than presenting a
// static password — the probe's stand-in for whatever token-issuing
// identity provider a real deployment would front this with.
type jwtAuthenticator struct {
	username string
	secret   []byte
	ttl      time.Duration
}

// newJWTAuthenticator builds an authenticator that signs tokens with a key
// derived from secret for username. secret is not used as the HMAC key
// directly: it is passed through HKDF-SHA256 first so a short or
// low-entropy operator-supplied value still yields a full-width signing
// key, and so the same secret can be re-derived for other purposes
// without reusing the raw signing key material.
func newJWTAuthenticator(username string, secret []byte) *jwtAuthenticator {
	return &jwtAuthenticator{
		username: username,
		secret:   deriveSigningKey(secret),
		ttl:      5 * time.Minute,
	}
}

func deriveSigningKey(secret []byte) []byte {
	kdf := hkdf.New(sha256.New, secret, []byte("couchkit-probe-jwt"), []byte("hs256-signing-key"))
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(kdf, key); err != nil {
		// hkdf.New's reader only fails past its output-length limit, which
		// sha256.Size is nowhere near.
		panic(err)
	}
	return key
}

// Credentials implements request.Authenticator.
func (a *jwtAuthenticator) Credentials(_ context.Context, host string) (string, string, error) {
	now := time.Now()
	claims := &probeClaims{
		Username: a.username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.username,
			Audience:  jwt.ClaimStrings{host},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", "", fmt.Errorf("couchkit-probe: sign credential token: %w", err)
	}
	return a.username, token, nil
}

// SupportsTLS implements request.Authenticator: a bearer token carries no
// assumptions that would make it incompatible with a TLS-enabled
// environment.
func (a *jwtAuthenticator) SupportsTLS() bool { return true }
