package domain

import "time"

// Risk score bucket thresholds. A session's bucketed risk is low below 40,
// medium from 40, high from 70, critical from 90.
const (
	RiskThresholdMedium   = 40
	RiskThresholdHigh     = 70
	RiskThresholdCritical = 90
)

// Session is one authenticated device/browser for a user (N:1 with User).
//
// Invariant: IsActive=false is terminal. Once invalidated a session id is
// never reactivated; a new login always creates a new Session. Sessions are
// mutated only through the session service to preserve auditability.
type Session struct {
	ID                 string // ULID
	UserID             string
	DeviceFingerprint  string // derived from user agent + coarse IP block
	IPAddress          string
	Location           string // coarse geo string, e.g. "Paris, FR"
	Browser            string
	CreatedAt          time.Time
	LastActivity       time.Time
	RiskScore          int // 0..100
	IsSuspicious       bool
	IsActive           bool
	InvalidatedAt      *time.Time
	InvalidationReason string
}

// RiskBucket maps a 0-100 score onto a RiskLevel.
func RiskBucket(score int) RiskLevel {
	switch {
	case score >= RiskThresholdCritical:
		return RiskCritical
	case score >= RiskThresholdHigh:
		return RiskHigh
	case score >= RiskThresholdMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// SecurityStatus is the derived (never stored) aggregate view of a user's
// active sessions.
type SecurityStatus struct {
	RiskLevel      RiskLevel `json:"risk_level"`
	ActiveSessions int       `json:"active_sessions"`
	Warnings       []string  `json:"warnings,omitempty"`
}
