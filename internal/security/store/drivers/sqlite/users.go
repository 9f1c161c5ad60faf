package sqlite

import (
	"context"
	"strings"

	"github.com/vigil-sec/vigil/internal/security/domain"
	"github.com/vigil-sec/vigil/internal/security/store"
)

type usersRepo struct {
	db dbtx
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, is_admin, is_suspended, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, strings.ToLower(u.Email), u.PasswordHash, u.IsAdmin, u.IsSuspended, u.CreatedAt,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return r.scanUser(ctx, `
		SELECT id, email, password_hash, is_admin, is_suspended, created_at
		FROM users WHERE id = ?`, id)
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.scanUser(ctx, `
		SELECT id, email, password_hash, is_admin, is_suspended, created_at
		FROM users WHERE email = ?`, strings.ToLower(email))
}

func (r *usersRepo) SetSuspended(ctx context.Context, userID string, suspended bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_suspended = ? WHERE id = ?`, suspended, userID)
	return err
}

func (r *usersRepo) scanUser(ctx context.Context, query string, arg any) (domain.User, error) {
	var u domain.User
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.IsSuspended, &u.CreatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}
