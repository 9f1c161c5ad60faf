package domain

import "time"

// RiskLevel grades audit events and session risk buckets.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// EventType names a security-relevant action or observation.
type EventType string

const (
	EventLoginSuccess        EventType = "login_success"
	EventLoginFailed         EventType = "login_failed"
	EventLoginLockedOut      EventType = "login_locked_out"
	EventLoginBlockedIP      EventType = "login_blocked_ip"
	EventSuspiciousLogin     EventType = "suspicious_login"
	EventTwoFactorSetup      EventType = "two_factor_setup"
	EventTwoFactorEnabled    EventType = "two_factor_enabled"
	EventTwoFactorDisabled   EventType = "two_factor_disabled"
	EventBackupCodeUsed      EventType = "backup_code_used"
	EventBackupCodesRotated  EventType = "backup_codes_rotated"
	EventTwoFactorReplay     EventType = "two_factor_replay"
	EventSessionInvalidated  EventType = "session_invalidated"
	EventSessionsBulkRevoked EventType = "sessions_bulk_revoked"
	EventIPBanned            EventType = "ip_banned"
	EventUserSuspended       EventType = "user_suspended"
	EventCleanupSummary      EventType = "cleanup_summary"
	EventAuditWriteFailed    EventType = "audit_write_failed"
)

// AuditEvent is an immutable, append-only record. The engine never updates
// or deletes events; retention is an external concern.
type AuditEvent struct {
	ID          string // ULID
	UserID      string // empty when the actor is unknown (failed login)
	Email       string
	IPAddress   string
	UserAgent   string
	EventType   EventType
	Description string
	// Metadata carries one of the typed payloads below; unknown producers
	// can fall back to a plain map[string]any. Persisted as JSON.
	Metadata  any
	RiskLevel RiskLevel
	Success   bool
	CreatedAt time.Time
}

/* Typed metadata payloads, one per producing event type. */

// LoginMetadata accompanies login_success / suspicious_login events.
type LoginMetadata struct {
	SessionID  string               `json:"session_id,omitempty"`
	RiskScore  int                  `json:"risk_score"`
	UsedMFA    bool                 `json:"used_mfa"`
	BackupCode bool                 `json:"backup_code,omitempty"`
	Findings   []SuspiciousActivity `json:"findings,omitempty"`
}

// LockoutMetadata accompanies login_locked_out events.
type LockoutMetadata struct {
	Identifier       string `json:"identifier"`
	RemainingMinutes int    `json:"remaining_minutes"`
}

// InvalidationMetadata accompanies session_invalidated / sessions_bulk_revoked.
type InvalidationMetadata struct {
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason"`
	Count     int    `json:"count,omitempty"`
}

// SecurityActionMetadata accompanies admin actions (ip_banned, user_suspended).
type SecurityActionMetadata struct {
	Action   string `json:"action"`
	Target   string `json:"target"`
	ActorID  string `json:"actor_id"`
	Duration string `json:"duration,omitempty"`
}

// CleanupSummary accompanies the one summary event per scheduler run.
// Counts may be approximate when two runs overlap; invalidation itself is
// idempotent so double-processing is harmless.
type CleanupSummary struct {
	SessionsExpired      int `json:"sessions_expired"`
	SuspiciousFound      int `json:"suspicious_found"`
	SessionsInvalidated  int `json:"sessions_invalidated"`
	UsersAffected        int `json:"users_affected"`
	DurationMilliseconds int `json:"duration_ms"`
}
