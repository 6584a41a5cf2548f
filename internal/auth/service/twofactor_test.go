package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/attendgrid/sessiond/internal/auth/domain"
	"github.com/attendgrid/sessiond/internal/auth/store"
	"github.com/attendgrid/sessiond/pkg/cryptox"
	"github.com/attendgrid/sessiond/pkg/idx"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func TestVerifyCodeHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.registerUser(t, "alice@example.test")

	_, err := f.twofactor.IssueChallenge(ctx, user)
	require.NoError(t, err)

	require.NoError(t, f.twofactor.VerifyCode(ctx, user.ID, f.notifier.code))

	// The challenge is consumed; a second verification has nothing to
	// check against.
	err = f.twofactor.VerifyCode(ctx, user.ID, f.notifier.code)
	require.ErrorIs(t, err, ErrNoActiveChallenge)
}

func TestVerifyCodeBurnsAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.registerUser(t, "alice@example.test")

	_, err := f.twofactor.IssueChallenge(ctx, user)
	require.NoError(t, err)

	wrong := "000000"
	if wrong == f.notifier.code {
		wrong = "000001"
	}

	for i := 0; i < domain.ChallengeMaxAttempts-1; i++ {
		err := f.twofactor.VerifyCode(ctx, user.ID, wrong)
		require.ErrorIs(t, err, ErrInvalidCode)
	}

	// The final failed attempt spends the budget.
	err = f.twofactor.VerifyCode(ctx, user.ID, wrong)
	require.ErrorIs(t, err, ErrAttemptsExhausted)

	// Even the right code is refused now, and stays refused.
	err = f.twofactor.VerifyCode(ctx, user.ID, f.notifier.code)
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	err = f.twofactor.VerifyCode(ctx, user.ID, wrong)
	require.ErrorIs(t, err, ErrAttemptsExhausted)

	// Exhaustion is audited once, not per refused attempt.
	require.Equal(t, 1, countAuditEvents(t, f, domain.AuditTwoFactorExhausted))

	// A fresh challenge resets the budget.
	_, err = f.twofactor.IssueChallenge(ctx, user)
	require.NoError(t, err)
	require.NoError(t, f.twofactor.VerifyCode(ctx, user.ID, f.notifier.code))
}

func TestVerifyCodeExpiredChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.registerUser(t, "alice@example.test")

	code, err := cryptox.NewNumericCode(domain.ChallengeCodeDigits)
	require.NoError(t, err)

	require.NoError(t, f.store.Challenges().UpsertChallenge(ctx, domain.Challenge{
		ID:           idx.New().String(),
		UserID:       user.ID,
		CodeHash:     cryptox.FingerprintToken(code),
		ExpiresAt:    time.Now().Add(-time.Second),
		AttemptsLeft: domain.ChallengeMaxAttempts,
	}))

	err = f.twofactor.VerifyCode(ctx, user.ID, code)
	require.ErrorIs(t, err, ErrChallengeExpired)

	// The expired challenge was discarded on sight.
	_, err = f.store.Challenges().GetChallengeByUserID(ctx, user.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewChallengeReplacesOldCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.registerUser(t, "alice@example.test")

	_, err := f.twofactor.IssueChallenge(ctx, user)
	require.NoError(t, err)
	oldCode := f.notifier.code

	_, err = f.twofactor.IssueChallenge(ctx, user)
	require.NoError(t, err)

	if oldCode != f.notifier.code {
		err = f.twofactor.VerifyCode(ctx, user.ID, oldCode)
		require.ErrorIs(t, err, ErrInvalidCode)
	}
	require.NoError(t, f.twofactor.VerifyCode(ctx, user.ID, f.notifier.code))
}

func TestTOTPEnrollmentLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.registerUser(t, "alice@example.test")

	enrollment, err := f.twofactor.EnrollTOTP(ctx, user)
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.Secret)
	require.Contains(t, enrollment.URL, "otpauth://")

	// Activation requires a code the authenticator would produce.
	_, err = f.twofactor.ActivateTOTP(ctx, user.ID, "000000")
	require.ErrorIs(t, err, ErrInvalidTOTPCode)

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)

	backupCodes, err := f.twofactor.ActivateTOTP(ctx, user.ID, code)
	require.NoError(t, err)
	require.Len(t, backupCodes, domain.BackupCodeCount)

	updated, err := f.store.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, updated.TwoFactorRequired())

	// Enrolling again while enabled is refused.
	_, err = f.twofactor.EnrollTOTP(ctx, updated)
	require.ErrorIs(t, err, ErrTwoFactorAlreadyEnabled)
}

func TestActivateTOTPRequiresEnrollment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.registerUser(t, "alice@example.test")

	_, err := f.twofactor.ActivateTOTP(ctx, user.ID, "123456")
	require.ErrorIs(t, err, ErrNotEnrolled)
}

func TestBackupCodeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := enrollAndActivate(t, f, "alice@example.test")

	codes, err := f.twofactor.RegenerateBackupCodes(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, codes, domain.BackupCodeCount)

	require.NoError(t, f.twofactor.ConsumeBackupCode(ctx, user.ID, codes[0]))

	// Second presentation of the same code fails like a bad code.
	err = f.twofactor.ConsumeBackupCode(ctx, user.ID, codes[0])
	require.ErrorIs(t, err, ErrInvalidCode)

	n, err := f.store.BackupCodes().CountBackupCodes(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BackupCodeCount-1, n)
}

func TestBackupCodeIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := enrollAndActivate(t, f, "alice@example.test")

	codes, err := f.twofactor.RegenerateBackupCodes(ctx, user.ID)
	require.NoError(t, err)

	lower := "  " + strings.ToLower(codes[0]) + " "
	require.NoError(t, f.twofactor.ConsumeBackupCode(ctx, user.ID, lower))
}

func TestRegenerateInvalidatesOldBackupCodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := enrollAndActivate(t, f, "alice@example.test")

	oldCodes, err := f.twofactor.RegenerateBackupCodes(ctx, user.ID)
	require.NoError(t, err)

	_, err = f.twofactor.RegenerateBackupCodes(ctx, user.ID)
	require.NoError(t, err)

	err = f.twofactor.ConsumeBackupCode(ctx, user.ID, oldCodes[0])
	require.ErrorIs(t, err, ErrInvalidCode)

	n, err := f.store.BackupCodes().CountBackupCodes(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BackupCodeCount, n)
}

func TestDisableTwoFactorClearsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := enrollAndActivate(t, f, "alice@example.test")

	require.NoError(t, f.twofactor.Disable(ctx, user.ID))

	updated, err := f.store.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, updated.TwoFactorRequired())
	require.Nil(t, updated.TOTPSecret)

	n, err := f.store.BackupCodes().CountBackupCodes(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.ErrorIs(t, f.twofactor.Disable(ctx, user.ID), ErrTwoFactorNotEnabled)
}

func TestConcurrentVerifyCodeSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.registerUser(t, "alice@example.test")

	_, err := f.twofactor.IssueChallenge(ctx, user)
	require.NoError(t, err)
	code := f.notifier.code

	const racers = 4
	errs := make(chan error, racers)
	start := make(chan struct{})

	for i := 0; i < racers; i++ {
		go func() {
			<-start
			errs <- f.twofactor.VerifyCode(ctx, user.ID, code)
		}()
	}
	close(start)

	// The consume is keyed on user and code hash, so only one
	// presentation of the same correct code may be accepted.
	wins := 0
	for i := 0; i < racers; i++ {
		err := <-errs
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrNoActiveChallenge):
		default:
			t.Fatalf("unexpected verify error: %v", err)
		}
	}
	require.Equal(t, 1, wins)
}

func TestBackupCodeSetHasNoDuplicates(t *testing.T) {
	codes, err := newBackupCodeSet()
	require.NoError(t, err)
	require.Len(t, codes, domain.BackupCodeCount)

	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		norm := cryptox.NormalizeBackupCode(c)
		_, dup := seen[norm]
		require.False(t, dup, "duplicate backup code in set")
		seen[norm] = struct{}{}
	}
}

func enrollAndActivate(t *testing.T, f *fixture, email string) domain.User {
	t.Helper()
	ctx := context.Background()

	user := f.registerUser(t, email)
	enrollment, err := f.twofactor.EnrollTOTP(ctx, user)
	require.NoError(t, err)

	code, err := totp.GenerateCode(enrollment.Secret, time.Now())
	require.NoError(t, err)

	_, err = f.twofactor.ActivateTOTP(ctx, user.ID, code)
	require.NoError(t, err)

	updated, err := f.store.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	return updated
}
