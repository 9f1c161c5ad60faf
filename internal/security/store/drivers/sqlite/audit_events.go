package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vigil-sec/vigil/internal/security/domain"
)

type auditEventsRepo struct {
	db dbtx
}

func (r *auditEventsRepo) InsertAuditEvent(ctx context.Context, e domain.AuditEvent) error {
	var metadata sql.NullString
	if e.Metadata != nil {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events
			(id, user_id, email, ip_address, user_agent, event_type,
			 description, metadata, risk_level, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, mapStringNull(e.UserID), mapStringNull(e.Email), e.IPAddress,
		mapStringNull(e.UserAgent), string(e.EventType), e.Description,
		metadata, string(e.RiskLevel), e.Success, e.CreatedAt,
	)
	return err
}

func (r *auditEventsRepo) ListAuditEventsByUser(ctx context.Context, userID string, limit int) ([]domain.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, email, ip_address, user_agent, event_type,
		       description, metadata, risk_level, success, created_at
		FROM audit_events
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var (
			e                        domain.AuditEvent
			userID, email, userAgent sql.NullString
			metadata                 sql.NullString
			eventType, riskLevel     string
		)
		err := rows.Scan(
			&e.ID, &userID, &email, &e.IPAddress, &userAgent, &eventType,
			&e.Description, &metadata, &riskLevel, &e.Success, &e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		e.UserID = mapNullString(userID)
		e.Email = mapNullString(email)
		e.UserAgent = mapNullString(userAgent)
		e.EventType = domain.EventType(eventType)
		e.RiskLevel = domain.RiskLevel(riskLevel)
		if metadata.Valid {
			// Stored payloads come back as a generic map; typed payloads
			// exist only on the write side.
			var m map[string]any
			if err := json.Unmarshal([]byte(metadata.String), &m); err == nil {
				e.Metadata = m
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *auditEventsRepo) CountDistinctEmailsByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT email) FROM audit_events
		WHERE ip_address = ? AND created_at >= ?
		  AND event_type IN (?, ?) AND email IS NOT NULL`,
		ip, since, string(domain.EventLoginFailed), string(domain.EventLoginSuccess),
	).Scan(&count)
	return count, err
}
