package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL is the default lifetime for access tokens.
// Short-lived for security - typical range is 15m to 1h.
const DefaultAccessTokenTTL = 15 * time.Minute

// Claims are access-token claims. The sid claim binds every authenticated
// request back to its Session row so activity tracking and invalidation
// checks happen on each call.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID
	SID string `json:"sid,omitempty"`

	// Email for the authenticated user
	Email string `json:"email,omitempty"`

	// Admin marks operator accounts for the admin authorization guard.
	Admin bool `json:"admin,omitempty"`

	// Authentication Methods Reference ["pwd","otp","mfa"]
	// 		"pwd": Password-based Authentication
	//		"otp": One-time Password (e.g. TOTP)
	//		"mfa": Multi-factor Auth was used
	AMR []string `json:"amr,omitempty"`
}

// NewAccessClaims builds minimally-correct claims.
func NewAccessClaims(
	subject, sid, email string,
	admin bool,
	amr []string,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		SID:   sid,
		Email: email,
		Admin: admin,
		AMR:   amr,
	}
}
