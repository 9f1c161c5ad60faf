package jwtx

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for any token that fails parsing,
	// signature verification, or issuer/expiry validation.
	ErrInvalidToken = errors.New("jwtx: invalid token")
)

// Signer issues EdDSA-signed access tokens.
type Signer struct {
	key    ed25519.PrivateKey
	pub    ed25519.PublicKey
	issuer string
}

// Verifier validates access tokens against the signer's public key.
type Verifier struct {
	pub    ed25519.PublicKey
	issuer string
}

// NewKeyPair generates a fresh Ed25519 key pair and returns a matched
// signer/verifier. Keys are ephemeral: tokens do not survive restarts, which
// is acceptable for short-lived session-bound access tokens.
func NewKeyPair(issuer string) (*Signer, *Verifier, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("jwtx: generate key: %w", err)
	}

	return &Signer{key: priv, pub: pub, issuer: issuer},
		&Verifier{pub: pub, issuer: issuer},
		nil
}

// Sign produces a compact JWS for the given claims.
func (s *Signer) Sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("jwtx: sign: %w", err)
	}
	return signed, nil
}

// Ready reports whether the signer has key material loaded.
func (s *Signer) Ready() bool { return s != nil && len(s.key) == ed25519.PrivateKeySize }

// Verify parses and validates a compact JWS, returning its claims.
// Expiry, not-before, and issuer are all enforced.
func (v *Verifier) Verify(raw string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.pub, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
