package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/attendgrid/sessiond/internal/auth/domain"
	"github.com/attendgrid/sessiond/internal/auth/store"
	"github.com/attendgrid/sessiond/pkg/cryptox"
	"github.com/attendgrid/sessiond/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func seedUser(t *testing.T, s *Store) domain.User {
	t.Helper()

	u := domain.User{
		ID:           idx.New().String(),
		Email:        idx.New().String() + "@example.test",
		DisplayName:  "Test User",
		PasswordHash: "hash",
		Roles:        []string{"staff", "admin"},
	}
	require.NoError(t, s.Users().CreateUser(context.Background(), u))
	return u
}

func TestUsersRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s)

	got, err := s.Users().GetUserByEmail(ctx, u.Email)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, []string{"staff", "admin"}, got.Roles)
	require.Nil(t, got.TwoFactorEnabled)
	require.Nil(t, got.TOTPSecret)

	// Duplicate emails are rejected.
	dup := u
	dup.ID = idx.New().String()
	err = s.Users().CreateUser(ctx, dup)
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	_, err = s.Users().GetUserByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestTwoFactorFlags(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s)

	require.NoError(t, s.Users().UpdateTOTPSecret(ctx, u.ID, "JBSWY3DPEHPK3PXP"))
	require.NoError(t, s.Users().EnableTwoFactor(ctx, u.ID))

	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, got.TwoFactorRequired())
	require.NotNil(t, got.TOTPSecret)

	require.NoError(t, s.Users().DisableTwoFactor(ctx, u.ID))
	got, err = s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, got.TwoFactorRequired())
	require.Nil(t, got.TOTPSecret)

	require.ErrorIs(t, s.Users().EnableTwoFactor(ctx, "missing"), store.ErrNotFound)
}

func TestRefreshTokenRotationCAS(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s)

	hash := cryptox.FingerprintToken("raw-token")
	rec := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    u.ID,
		TokenHash: hash,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, rec))

	// First rotation wins.
	require.NoError(t, s.RefreshTokens().MarkRefreshTokenRotated(ctx, hash))

	got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, got.RotatedAt)
	require.False(t, got.Active(time.Now()))

	// Second rotation of the same record loses the CAS.
	err = s.RefreshTokens().MarkRefreshTokenRotated(ctx, hash)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRevokeAllUserRefreshTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s)

	hashes := make([]string, 3)
	for i := range hashes {
		hashes[i] = cryptox.FingerprintToken(idx.New().String())
		require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
			ID:        idx.New().String(),
			UserID:    u.ID,
			TokenHash: hashes[i],
			ExpiresAt: time.Now().Add(time.Hour),
		}))
	}

	require.NoError(t, s.RefreshTokens().RevokeAllUserRefreshTokens(ctx, u.ID))

	for _, h := range hashes {
		got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, h)
		require.NoError(t, err)
		require.True(t, got.Revoked)
	}

	// A revoked token can no longer be rotated.
	err := s.RefreshTokens().MarkRefreshTokenRotated(ctx, hashes[0])
	require.ErrorIs(t, err, store.ErrNotFound)

	// Revoking an unknown hash is not an error.
	require.NoError(t, s.RefreshTokens().RevokeRefreshToken(ctx, "unknown"))
}

func TestChallengeUpsertReplacesPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s)

	first := domain.Challenge{
		ID:           idx.New().String(),
		UserID:       u.ID,
		CodeHash:     cryptox.FingerprintToken("111111"),
		ExpiresAt:    time.Now().Add(domain.ChallengeTTL),
		AttemptsLeft: domain.ChallengeMaxAttempts,
	}
	require.NoError(t, s.Challenges().UpsertChallenge(ctx, first))

	second := first
	second.ID = idx.New().String()
	second.CodeHash = cryptox.FingerprintToken("222222")
	require.NoError(t, s.Challenges().UpsertChallenge(ctx, second))

	got, err := s.Challenges().GetChallengeByUserID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)
	require.Equal(t, second.CodeHash, got.CodeHash)
}

func TestConsumeChallengeIsGuarded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s)

	hash := cryptox.FingerprintToken("123456")
	require.NoError(t, s.Challenges().UpsertChallenge(ctx, domain.Challenge{
		ID:           idx.New().String(),
		UserID:       u.ID,
		CodeHash:     hash,
		ExpiresAt:    time.Now().Add(domain.ChallengeTTL),
		AttemptsLeft: domain.ChallengeMaxAttempts,
	}))

	// A stale hash never consumes the row.
	err := s.Challenges().ConsumeChallenge(ctx, u.ID, cryptox.FingerprintToken("999999"))
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Challenges().GetChallengeByUserID(ctx, u.ID)
	require.NoError(t, err)

	// The matching hash consumes it exactly once.
	require.NoError(t, s.Challenges().ConsumeChallenge(ctx, u.ID, hash))
	err = s.Challenges().ConsumeChallenge(ctx, u.ID, hash)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDecrementChallengeAttempts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s)

	require.NoError(t, s.Challenges().UpsertChallenge(ctx, domain.Challenge{
		ID:           idx.New().String(),
		UserID:       u.ID,
		CodeHash:     cryptox.FingerprintToken("123456"),
		ExpiresAt:    time.Now().Add(domain.ChallengeTTL),
		AttemptsLeft: 2,
	}))

	got, err := s.Challenges().DecrementChallengeAttempts(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.AttemptsLeft)

	got, err = s.Challenges().DecrementChallengeAttempts(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.AttemptsLeft)

	// Exhausted rows cannot go negative.
	_, err = s.Challenges().DecrementChallengeAttempts(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Challenges().DeleteChallenge(ctx, u.ID))
	_, err = s.Challenges().GetChallengeByUserID(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConsumeBackupCodeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s)

	hash := cryptox.FingerprintToken("ABCD1234")
	require.NoError(t, s.BackupCodes().CreateBackupCode(ctx, u.ID, hash))

	n, err := s.BackupCodes().CountBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	consumed, err := s.BackupCodes().ConsumeBackupCode(ctx, u.ID, hash)
	require.NoError(t, err)
	require.True(t, consumed)

	// Same code a second time: gone.
	consumed, err = s.BackupCodes().ConsumeBackupCode(ctx, u.ID, hash)
	require.NoError(t, err)
	require.False(t, consumed)

	n, err = s.BackupCodes().CountBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestAuditEventsAppendAndList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AuditEvents().AppendAuditEvent(ctx, domain.AuditEvent{
			ID:      idx.New().String(),
			Type:    domain.AuditRateLimitCheck,
			Details: "check",
		}))
	}

	events, err := s.AuditEvents().ListRecentAuditEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s)

	hash := cryptox.FingerprintToken("tx-token")
	boom := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    u.ID,
		TokenHash: hash,
		ExpiresAt: time.Now().Add(time.Hour),
	}

	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().CreateRefreshToken(ctx, boom); err != nil {
			return err
		}
		return store.ErrUnavailable
	})
	require.ErrorIs(t, err, store.ErrUnavailable)

	_, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
	require.ErrorIs(t, err, store.ErrNotFound)
}
