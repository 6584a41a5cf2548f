package store

import (
	"context"
	"errors"

	"github.com/attendgrid/sessiond/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrUnavailable marks transient persistence failures (timeouts,
	// connection loss). Callers must surface these distinctly from "not
	// found" so an outage is never mistaken for a revoked credential.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store is the root data access interface. Concrete drivers (sqlite today)
// implement it. Sub-repositories keep concerns separated and let tests fake
// a single slice of the store.
type Store interface {
	Users() Users
	RefreshTokens() RefreshTokens
	Challenges() Challenges
	BackupCodes() BackupCodes
	AuditEvents() AuditEvents

	ApplyMigrations() error

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed. Multi-step
	// operations that must be atomic (refresh rotation, challenge
	// verification) go through here.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases underlying resources.
	Close() error

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error
}

// Tx is a transaction-scoped Store.
type Tx interface {
	Users() Users
	RefreshTokens() RefreshTokens
	Challenges() Challenges
	BackupCodes() BackupCodes
	AuditEvents() AuditEvents

	Commit() error
	Rollback() error
}

type Users interface {
	// CreateUser inserts a new user (id provided by the app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail is used during login.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// UpdateTOTPSecret stores the enrolled authenticator secret.
	UpdateTOTPSecret(ctx context.Context, userID, secret string) error

	// EnableTwoFactor stamps the 2FA-required flag.
	EnableTwoFactor(ctx context.Context, userID string) error

	// DisableTwoFactor clears the 2FA flag and the TOTP secret.
	DisableTwoFactor(ctx context.Context, userID string) error
}

type RefreshTokens interface {
	// CreateRefreshToken stores a new record.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the record for a token fingerprint.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// MarkRefreshTokenRotated flips rotated_at for an active record. This
	// is the rotation CAS: it only succeeds if the record is still
	// unrotated and unrevoked, so exactly one of two concurrent rotations
	// wins. The loser gets ErrNotFound.
	MarkRefreshTokenRotated(ctx context.Context, hash string) error

	// RevokeRefreshToken flips revoked; idempotent, absent hashes are not
	// an error.
	RevokeRefreshToken(ctx context.Context, hash string) error

	// RevokeAllUserRefreshTokens bulk-revokes every record for a user
	// (logout-all and the replay cascade).
	RevokeAllUserRefreshTokens(ctx context.Context, userID string) error

	// DeleteExpiredRefreshTokens is housekeeping.
	DeleteExpiredRefreshTokens(ctx context.Context) error
}

type Challenges interface {
	// UpsertChallenge stores a pending challenge, replacing any prior one
	// for the same user.
	UpsertChallenge(ctx context.Context, c domain.Challenge) error

	// GetChallengeByUserID returns the user's pending challenge.
	GetChallengeByUserID(ctx context.Context, userID string) (domain.Challenge, error)

	// DecrementChallengeAttempts atomically decrements the attempt budget
	// and returns the updated record.
	DecrementChallengeAttempts(ctx context.Context, userID string) (domain.Challenge, error)

	// ConsumeChallenge removes the pending challenge only if it still
	// carries the given code hash. ErrNotFound when another caller
	// consumed or replaced it first; at most one caller wins.
	ConsumeChallenge(ctx context.Context, userID, codeHash string) error

	// DeleteChallenge discards a user's pending challenge; idempotent.
	DeleteChallenge(ctx context.Context, userID string) error

	// DeleteExpiredChallenges is housekeeping.
	DeleteExpiredChallenges(ctx context.Context) error
}

type BackupCodes interface {
	// CreateBackupCode stores one backup code fingerprint for a user.
	CreateBackupCode(ctx context.Context, userID, codeHash string) error

	// ConsumeBackupCode atomically removes a matching unconsumed code and
	// reports whether one was consumed. No match is (false, nil), not an
	// error.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)

	// DeleteAllBackupCodes drops a user's whole set (regeneration,
	// 2FA disable).
	DeleteAllBackupCodes(ctx context.Context, userID string) error

	// CountBackupCodes returns how many codes remain for a user.
	CountBackupCodes(ctx context.Context, userID string) (int, error)
}

type AuditEvents interface {
	// AppendAuditEvent writes one event. Events are append-only; there is
	// deliberately no update or delete.
	AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error

	// ListRecentAuditEvents returns up to limit events, newest first.
	ListRecentAuditEvents(ctx context.Context, limit int) ([]domain.AuditEvent, error)
}
