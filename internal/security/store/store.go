package store

import (
	"context"
	"errors"
	"time"

	"github.com/vigil-sec/vigil/internal/security/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite for now)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable, and to actively stop callers from accidentally opening
// transactions within transactions.
type Store interface {
	Users() Users
	TwoFactor() TwoFactor
	BackupCodes() BackupCodes
	Sessions() Sessions
	AuditEvents() AuditEvents
	BannedIPs() BannedIPs

	ApplyMigrations() error

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed. This is the
	// recommended way to handle multi-step atomic operations (e.g. backup
	// code rotation).
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store scope.
type Tx interface {
	Users() Users
	TwoFactor() TwoFactor
	BackupCodes() BackupCodes
	Sessions() Sessions
	AuditEvents() AuditEvents
	BannedIPs() BannedIPs
}

type Users interface {
	// CreateUser inserts a new user (id is provided by app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail looks up by lowercased email during login.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// SetSuspended flips the account-suspension flag.
	SetSuspended(ctx context.Context, userID string, suspended bool) error
}

type TwoFactor interface {
	// UpsertCredential writes the credential row, replacing any previous
	// enrollment for the user (setup always starts disabled).
	UpsertCredential(ctx context.Context, c domain.TwoFactorCredential) error

	GetCredential(ctx context.Context, userID string) (domain.TwoFactorCredential, error)

	// Enable flips enabled=1 and stamps verified_at.
	Enable(ctx context.Context, userID string, verifiedAt time.Time) error

	// SetLastUsedStep records the accepted TOTP step for replay protection.
	SetLastUsedStep(ctx context.Context, userID string, step int64) error

	// DeleteCredential removes the enrollment entirely (disable).
	DeleteCredential(ctx context.Context, userID string) error
}

type BackupCodes interface {
	// CreateBackupCode stores one backup code hash for a user.
	CreateBackupCode(ctx context.Context, userID, codeHash string) error

	// ListBackupCodeHashes returns the unconsumed hashes in insertion order.
	ListBackupCodeHashes(ctx context.Context, userID string) ([]string, error)

	// DeleteBackupCode removes a specific code hash after use. Consumption
	// is irreversible: the row is deleted, not flagged.
	DeleteBackupCode(ctx context.Context, userID, codeHash string) error

	DeleteAllBackupCodes(ctx context.Context, userID string) error

	CountBackupCodes(ctx context.Context, userID string) (int, error)
}

type Sessions interface {
	// CreateSession always inserts a new row; re-login never mutates an
	// existing session.
	CreateSession(ctx context.Context, s domain.Session) error

	GetSessionByID(ctx context.Context, id string) (domain.Session, error)

	// TouchSession updates last_activity only (last-write-wins).
	TouchSession(ctx context.Context, id string, at time.Time) error

	// InvalidateSession marks the session inactive with a reason. Returns
	// false when the session was already inactive (idempotent no-op), so
	// invalidated_at is never overwritten.
	InvalidateSession(ctx context.Context, id, reason string, at time.Time) (bool, error)

	// InvalidateAllOthers bulk-invalidates a user's other active sessions
	// and returns the count affected.
	InvalidateAllOthers(ctx context.Context, userID, exceptID, reason string, at time.Time) (int, error)

	// ListActiveSessions returns a user's active sessions, last_activity desc.
	ListActiveSessions(ctx context.Context, userID string) ([]domain.Session, error)

	// ListRecentSessions returns a user's newest sessions regardless of
	// state, created_at desc, for baseline comparison.
	ListRecentSessions(ctx context.Context, userID string, limit int) ([]domain.Session, error)

	// ListActiveInactiveSince returns active sessions whose last_activity
	// predates cutoff (cleanup candidates).
	ListActiveInactiveSince(ctx context.Context, cutoff time.Time) ([]domain.Session, error)

	// ListFlaggedSessions returns active sessions with risk_score >= minRisk
	// or is_suspicious set.
	ListFlaggedSessions(ctx context.Context, minRisk int) ([]domain.Session, error)
}

type AuditEvents interface {
	// InsertAuditEvent appends one immutable event. There is deliberately
	// no update or delete operation on this repository.
	InsertAuditEvent(ctx context.Context, e domain.AuditEvent) error

	// ListAuditEventsByUser returns a user's newest events.
	ListAuditEventsByUser(ctx context.Context, userID string, limit int) ([]domain.AuditEvent, error)

	// CountDistinctEmailsByIPSince counts distinct identifiers attempting
	// login from one address (credential stuffing signal).
	CountDistinctEmailsByIPSince(ctx context.Context, ip string, since time.Time) (int, error)
}

type BannedIPs interface {
	// UpsertBan writes or refreshes a ban row.
	UpsertBan(ctx context.Context, b domain.BannedIP) error

	GetBan(ctx context.Context, ip string) (domain.BannedIP, error)

	// LiftBan deactivates a ban without deleting its record.
	LiftBan(ctx context.Context, ip string) error
}
