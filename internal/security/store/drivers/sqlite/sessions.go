package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/vigil-sec/vigil/internal/security/domain"
)

type sessionsRepo struct {
	db dbtx
}

const sessionColumns = `
	id, user_id, device_fingerprint, ip_address, location, browser,
	created_at, last_activity, risk_score, is_suspicious, is_active,
	invalidated_at, invalidation_reason`

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.DeviceFingerprint, s.IPAddress, s.Location, s.Browser,
		s.CreatedAt, s.LastActivity, s.RiskScore, s.IsSuspicious, s.IsActive,
		mapOptionalTime(s.InvalidatedAt), s.InvalidationReason,
	)
	return err
}

func (r *sessionsRepo) GetSessionByID(ctx context.Context, id string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	return s, nil
}

func (r *sessionsRepo) TouchSession(ctx context.Context, id string, at time.Time) error {
	// Last-write-wins on last_activity; no other field is touched here.
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE id = ? AND is_active = 1`, at, id)
	return err
}

func (r *sessionsRepo) InvalidateSession(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	// The is_active guard makes invalidation idempotent: a second call
	// matches zero rows and the original invalidated_at is preserved.
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET is_active = 0, invalidated_at = ?, invalidation_reason = ?
		WHERE id = ? AND is_active = 1`,
		at, reason, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *sessionsRepo) InvalidateAllOthers(ctx context.Context, userID, exceptID, reason string, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET is_active = 0, invalidated_at = ?, invalidation_reason = ?
		WHERE user_id = ? AND id != ? AND is_active = 1`,
		at, reason, userID, exceptID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *sessionsRepo) ListActiveSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	return r.list(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ? AND is_active = 1
		ORDER BY last_activity DESC`, userID)
}

func (r *sessionsRepo) ListRecentSessions(ctx context.Context, userID string, limit int) ([]domain.Session, error) {
	return r.list(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, userID, limit)
}

func (r *sessionsRepo) ListActiveInactiveSince(ctx context.Context, cutoff time.Time) ([]domain.Session, error) {
	return r.list(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE is_active = 1 AND last_activity < ?
		ORDER BY last_activity`, cutoff)
}

func (r *sessionsRepo) ListFlaggedSessions(ctx context.Context, minRisk int) ([]domain.Session, error) {
	return r.list(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE is_active = 1 AND (risk_score >= ? OR is_suspicious = 1)
		ORDER BY risk_score DESC`, minRisk)
}

func (r *sessionsRepo) list(ctx context.Context, query string, args ...any) ([]domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		s             domain.Session
		invalidatedAt sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.DeviceFingerprint, &s.IPAddress, &s.Location, &s.Browser,
		&s.CreatedAt, &s.LastActivity, &s.RiskScore, &s.IsSuspicious, &s.IsActive,
		&invalidatedAt, &s.InvalidationReason,
	)
	if err != nil {
		return domain.Session{}, err
	}
	s.InvalidatedAt = mapNullTimePtr(invalidatedAt)
	return s, nil
}
