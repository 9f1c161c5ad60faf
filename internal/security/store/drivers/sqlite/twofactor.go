package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/vigil-sec/vigil/internal/security/domain"
)

type twoFactorRepo struct {
	db dbtx
}

func (r *twoFactorRepo) UpsertCredential(ctx context.Context, c domain.TwoFactorCredential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO two_factor_credentials
			(user_id, secret_ciphertext, enabled, verified_at, last_used_step, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			secret_ciphertext = excluded.secret_ciphertext,
			enabled           = excluded.enabled,
			verified_at       = excluded.verified_at,
			last_used_step    = excluded.last_used_step,
			updated_at        = excluded.updated_at`,
		c.UserID, c.SecretCiphertext, c.Enabled, mapOptionalTime(c.VerifiedAt),
		c.LastUsedStep, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (r *twoFactorRepo) GetCredential(ctx context.Context, userID string) (domain.TwoFactorCredential, error) {
	var (
		c          domain.TwoFactorCredential
		verifiedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, secret_ciphertext, enabled, verified_at, last_used_step, created_at, updated_at
		FROM two_factor_credentials WHERE user_id = ?`, userID,
	).Scan(&c.UserID, &c.SecretCiphertext, &c.Enabled, &verifiedAt, &c.LastUsedStep, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return domain.TwoFactorCredential{}, mapNotFound(err)
	}
	c.VerifiedAt = mapNullTimePtr(verifiedAt)
	return c, nil
}

func (r *twoFactorRepo) Enable(ctx context.Context, userID string, verifiedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE two_factor_credentials
		SET enabled = 1, verified_at = ?, updated_at = ?
		WHERE user_id = ?`,
		verifiedAt, verifiedAt, userID)
	return err
}

func (r *twoFactorRepo) SetLastUsedStep(ctx context.Context, userID string, step int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE two_factor_credentials SET last_used_step = ? WHERE user_id = ?`,
		step, userID)
	return err
}

func (r *twoFactorRepo) DeleteCredential(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM two_factor_credentials WHERE user_id = ?`, userID)
	return err
}

type backupCodesRepo struct {
	db dbtx
}

func (r *backupCodesRepo) CreateBackupCode(ctx context.Context, userID, codeHash string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO backup_codes (user_id, code_hash, created_at) VALUES (?, ?, ?)`,
		userID, codeHash, time.Now().UTC())
	return err
}

func (r *backupCodesRepo) ListBackupCodeHashes(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code_hash FROM backup_codes WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (r *backupCodesRepo) DeleteBackupCode(ctx context.Context, userID, codeHash string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE user_id = ? AND code_hash = ?`, userID, codeHash)
	return err
}

func (r *backupCodesRepo) DeleteAllBackupCodes(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM backup_codes WHERE user_id = ?`, userID)
	return err
}

func (r *backupCodesRepo) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backup_codes WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}
