package sqlite

import (
	"context"
	"time"

	"github.com/attendgrid/sessiond/internal/auth/domain"
)

type challengesRepo struct {
	q querier
}

func (r *challengesRepo) UpsertChallenge(ctx context.Context, c domain.Challenge) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO challenges (user_id, id, code_hash, expires_at, attempts_left)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			id            = excluded.id,
			code_hash     = excluded.code_hash,
			expires_at    = excluded.expires_at,
			attempts_left = excluded.attempts_left,
			created_at    = CURRENT_TIMESTAMP`,
		c.UserID, c.ID, c.CodeHash, c.ExpiresAt.UTC(), c.AttemptsLeft,
	)
	return mapErr(err)
}

func (r *challengesRepo) GetChallengeByUserID(
	ctx context.Context,
	userID string,
) (domain.Challenge, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT user_id, id, code_hash, expires_at, attempts_left, created_at
		FROM challenges WHERE user_id = ?`, userID,
	)

	var c domain.Challenge
	err := row.Scan(&c.UserID, &c.ID, &c.CodeHash, &c.ExpiresAt, &c.AttemptsLeft, &c.CreatedAt)
	if err != nil {
		return domain.Challenge{}, mapErr(err)
	}
	return c, nil
}

func (r *challengesRepo) DecrementChallengeAttempts(
	ctx context.Context,
	userID string,
) (domain.Challenge, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE challenges SET attempts_left = attempts_left - 1
		WHERE user_id = ? AND attempts_left > 0`, userID,
	)
	if err := requireRowAffected(res, err); err != nil {
		return domain.Challenge{}, err
	}
	return r.GetChallengeByUserID(ctx, userID)
}

func (r *challengesRepo) ConsumeChallenge(ctx context.Context, userID, codeHash string) error {
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM challenges WHERE user_id = ? AND code_hash = ?`,
		userID, codeHash,
	)
	return requireRowAffected(res, err)
}

func (r *challengesRepo) DeleteChallenge(ctx context.Context, userID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM challenges WHERE user_id = ?`, userID)
	return mapErr(err)
}

func (r *challengesRepo) DeleteExpiredChallenges(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM challenges WHERE expires_at < ?`, time.Now().UTC(),
	)
	return mapErr(err)
}
