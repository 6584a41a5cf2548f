package sqlite

import (
	"context"
)

type backupCodesRepo struct {
	q querier
}

func (r *backupCodesRepo) CreateBackupCode(ctx context.Context, userID, codeHash string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO backup_codes (user_id, code_hash) VALUES (?, ?)`,
		userID, codeHash,
	)
	return mapErr(err)
}

// ConsumeBackupCode deletes the matching row and reports whether one was
// there. The DELETE makes consumption atomic: two racing presentations of
// the same code can only remove it once.
func (r *backupCodesRepo) ConsumeBackupCode(
	ctx context.Context,
	userID, codeHash string,
) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM backup_codes WHERE user_id = ? AND code_hash = ?`,
		userID, codeHash,
	)
	if err != nil {
		return false, mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapErr(err)
	}
	return n > 0, nil
}

func (r *backupCodesRepo) DeleteAllBackupCodes(ctx context.Context, userID string) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM backup_codes WHERE user_id = ?`, userID)
	return mapErr(err)
}

func (r *backupCodesRepo) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM backup_codes WHERE user_id = ?`, userID,
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}
