package sqlite

import (
	"context"
	"database/sql"

	"github.com/vigil-sec/vigil/internal/security/domain"
)

type bannedIPsRepo struct {
	db dbtx
}

func (r *bannedIPsRepo) UpsertBan(ctx context.Context, b domain.BannedIP) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO banned_ips (ip_address, reason, banned_by, banned_at, expires_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (ip_address) DO UPDATE SET
			reason     = excluded.reason,
			banned_by  = excluded.banned_by,
			banned_at  = excluded.banned_at,
			expires_at = excluded.expires_at,
			is_active  = excluded.is_active`,
		b.IPAddress, b.Reason, b.BannedBy, b.BannedAt, mapOptionalTime(b.ExpiresAt), b.IsActive,
	)
	return err
}

func (r *bannedIPsRepo) GetBan(ctx context.Context, ip string) (domain.BannedIP, error) {
	var (
		b         domain.BannedIP
		expiresAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT ip_address, reason, banned_by, banned_at, expires_at, is_active
		FROM banned_ips WHERE ip_address = ?`, ip,
	).Scan(&b.IPAddress, &b.Reason, &b.BannedBy, &b.BannedAt, &expiresAt, &b.IsActive)
	if err != nil {
		return domain.BannedIP{}, mapNotFound(err)
	}
	b.ExpiresAt = mapNullTimePtr(expiresAt)
	return b, nil
}

func (r *bannedIPsRepo) LiftBan(ctx context.Context, ip string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE banned_ips SET is_active = 0 WHERE ip_address = ?`, ip)
	return err
}
