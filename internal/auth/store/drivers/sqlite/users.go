package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/attendgrid/sessiond/internal/auth/domain"
)

type usersRepo struct {
	q querier
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, roles)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.DisplayName, u.PasswordHash, joinRoles(u.Roles),
	)
	return mapErr(err)
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, roles,
		       twofactor_enabled, totp_secret, created_at, updated_at
		FROM users WHERE id = ?`, id,
	)
	return scanUser(row)
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, roles,
		       twofactor_enabled, totp_secret, created_at, updated_at
		FROM users WHERE email = ?`, email,
	)
	return scanUser(row)
}

func (r *usersRepo) UpdateTOTPSecret(ctx context.Context, userID, secret string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE users SET totp_secret = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, secret, userID,
	)
	return requireRowAffected(res, err)
}

func (r *usersRepo) EnableTwoFactor(ctx context.Context, userID string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE users SET twofactor_enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, time.Now().UTC(), userID,
	)
	return requireRowAffected(res, err)
}

func (r *usersRepo) DisableTwoFactor(ctx context.Context, userID string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE users SET twofactor_enabled = NULL, totp_secret = NULL,
		       updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, userID,
	)
	return requireRowAffected(res, err)
}

func scanUser(row *sql.Row) (domain.User, error) {
	var (
		u                domain.User
		roles            string
		twofactorEnabled sql.NullTime
		totpSecret       sql.NullString
	)

	err := row.Scan(
		&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &roles,
		&twofactorEnabled, &totpSecret, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapErr(err)
	}

	u.Roles = splitRoles(roles)
	u.TwoFactorEnabled = mapNullTimePtr(twofactorEnabled)
	u.TOTPSecret = mapNullStringPtr(totpSecret)
	return u, nil
}
