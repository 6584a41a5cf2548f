package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/attendgrid/sessiond/internal/auth/domain"
)

type refreshTokensRepo struct {
	q querier
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES (?, ?, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt.UTC(),
	)
	return mapErr(err)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(
	ctx context.Context,
	hash string,
) (domain.RefreshToken, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, rotated_at, revoked,
		       created_at, updated_at
		FROM refresh_tokens WHERE token_hash = ?`, hash,
	)

	var (
		t         domain.RefreshToken
		rotatedAt sql.NullTime
		revoked   int
	)
	err := row.Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &rotatedAt, &revoked,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.RefreshToken{}, mapErr(err)
	}

	t.RotatedAt = mapNullTimePtr(rotatedAt)
	t.Revoked = revoked != 0
	return t, nil
}

// MarkRefreshTokenRotated is the rotation compare-and-swap. The WHERE clause
// only matches a record that is still unrotated and unrevoked, so of two
// concurrent rotations of the same token exactly one update lands; the other
// sees zero rows and gets ErrNotFound.
func (r *refreshTokensRepo) MarkRefreshTokenRotated(ctx context.Context, hash string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET rotated_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE token_hash = ? AND rotated_at IS NULL AND revoked = 0`,
		time.Now().UTC(), hash,
	)
	return requireRowAffected(res, err)
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, hash string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = 1, updated_at = CURRENT_TIMESTAMP
		WHERE token_hash = ?`, hash,
	)
	return mapErr(err)
}

func (r *refreshTokensRepo) RevokeAllUserRefreshTokens(ctx context.Context, userID string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens
		SET revoked = 1, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND revoked = 0`, userID,
	)
	return mapErr(err)
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < ?`, time.Now().UTC(),
	)
	return mapErr(err)
}
