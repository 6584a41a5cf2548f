package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/attendgrid/sessiond/internal/auth/domain"
	"github.com/attendgrid/sessiond/internal/auth/store"
	"github.com/attendgrid/sessiond/pkg/cryptox"
	"github.com/attendgrid/sessiond/pkg/idx"
	"github.com/attendgrid/sessiond/pkg/slogx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Second-factor method names accepted at challenge completion.
const (
	MethodCode       = "code"
	MethodTOTP       = "totp"
	MethodBackupCode = "backup_code"
)

// TwoFactorService owns the second-factor challenge lifecycle, TOTP
// enrollment, and backup codes.
type TwoFactorService struct {
	Store    store.Store
	Notifier Notifier
	Issuer   string // issuer label shown in authenticator apps
}

// IssueChallenge creates a pending challenge for the user and delivers the
// code through the notifier. A user has at most one pending challenge;
// issuing a new one replaces it, so a fresh login attempt invalidates any
// code still floating around from the previous one.
func (s *TwoFactorService) IssueChallenge(
	ctx context.Context,
	user domain.User,
) (domain.ChallengeHandle, error) {
	code, err := cryptox.NewNumericCode(domain.ChallengeCodeDigits)
	if err != nil {
		return domain.ChallengeHandle{}, fmt.Errorf("generate challenge code: %w", err)
	}

	challenge := domain.Challenge{
		ID:           idx.New().String(),
		UserID:       user.ID,
		CodeHash:     cryptox.FingerprintToken(code),
		ExpiresAt:    time.Now().Add(domain.ChallengeTTL),
		AttemptsLeft: domain.ChallengeMaxAttempts,
	}

	if err := s.Store.Challenges().UpsertChallenge(ctx, challenge); err != nil {
		return domain.ChallengeHandle{}, err
	}

	if err := s.Notifier.SendChallengeCode(ctx, user.ID, user.Email, code); err != nil {
		// The challenge row exists but the user never got a code;
		// leave it to expire rather than leaving a half-issued state.
		return domain.ChallengeHandle{}, fmt.Errorf("deliver challenge code: %w", err)
	}

	return domain.ChallengeHandle{
		ChallengeID: challenge.ID,
		Methods:     s.methodsFor(ctx, user),
	}, nil
}

func (s *TwoFactorService) methodsFor(ctx context.Context, user domain.User) []string {
	methods := []string{MethodCode}
	if user.TOTPSecret != nil && *user.TOTPSecret != "" {
		methods = append(methods, MethodTOTP)
	}
	if n, err := s.Store.BackupCodes().CountBackupCodes(ctx, user.ID); err == nil && n > 0 {
		methods = append(methods, MethodBackupCode)
	}
	return methods
}

// VerifyCode checks a delivered challenge code.
//
// A wrong code burns one attempt and returns ErrInvalidCode. Once the
// attempt budget is spent the challenge stays on record marked exhausted,
// and every further attempt, right code or not, gets ErrAttemptsExhausted
// until the challenge expires or a new one replaces it. Acceptance is an
// atomic consume keyed by user and code hash, so a code is accepted at
// most once even under concurrent presentation.
func (s *TwoFactorService) VerifyCode(ctx context.Context, userID, code string) error {
	challenge, err := s.Store.Challenges().GetChallengeByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoActiveChallenge
		}
		return err
	}

	now := time.Now()
	if !now.Before(challenge.ExpiresAt) {
		_ = s.Store.Challenges().DeleteChallenge(ctx, userID)
		return ErrChallengeExpired
	}

	if challenge.AttemptsLeft <= 0 {
		return ErrAttemptsExhausted
	}

	// Fingerprints are fixed-length so this never leaks code length.
	presented := cryptox.FingerprintToken(code)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(challenge.CodeHash)) != 1 {
		updated, err := s.Store.Challenges().DecrementChallengeAttempts(ctx, userID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err == nil && updated.AttemptsLeft <= 0 {
			return s.exhaust(ctx, userID)
		}
		return ErrInvalidCode
	}

	if err := s.Store.Challenges().ConsumeChallenge(ctx, userID, challenge.CodeHash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Someone consumed or replaced the challenge between our
			// read and the delete; this presentation loses.
			return ErrNoActiveChallenge
		}
		return err
	}
	return nil
}

// exhaust records that the final attempt was just spent. The challenge
// row stays behind at zero attempts so later presentations keep failing
// as exhausted rather than looking like no challenge was ever issued.
func (s *TwoFactorService) exhaust(ctx context.Context, userID string) error {
	slogx.FromContext(ctx).Warn("second-factor attempts exhausted",
		slog.String("user_id", userID),
	)

	err := s.Store.AuditEvents().AppendAuditEvent(ctx, domain.AuditEvent{
		ID:      idx.New().String(),
		Type:    domain.AuditTwoFactorExhausted,
		Details: "challenge attempt budget spent",
		UserID:  userID,
	})
	if err != nil {
		return err
	}
	return ErrAttemptsExhausted
}

// VerifyTOTP checks an authenticator code for a user with an enrolled
// secret. On success any pending challenge is cleared.
func (s *TwoFactorService) VerifyTOTP(ctx context.Context, user domain.User, code string) error {
	if user.TOTPSecret == nil || *user.TOTPSecret == "" {
		return ErrNotEnrolled
	}
	if !totp.Validate(code, *user.TOTPSecret) {
		return ErrInvalidCode
	}
	return s.Store.Challenges().DeleteChallenge(ctx, user.ID)
}

// ConsumeBackupCode burns one backup code. Codes are single-use; a code
// that was already consumed fails exactly like one that never existed. On
// success any pending challenge is cleared.
func (s *TwoFactorService) ConsumeBackupCode(ctx context.Context, userID, code string) error {
	hash := cryptox.FingerprintToken(cryptox.NormalizeBackupCode(code))

	consumed, err := s.Store.BackupCodes().ConsumeBackupCode(ctx, userID, hash)
	if err != nil {
		return err
	}
	if !consumed {
		return ErrInvalidCode
	}
	return s.Store.Challenges().DeleteChallenge(ctx, userID)
}

// EnrollTOTP generates an authenticator secret for the user and returns
// the provisioning details. The second factor is not enabled until
// ActivateTOTP confirms the user's app produces matching codes.
func (s *TwoFactorService) EnrollTOTP(
	ctx context.Context,
	user domain.User,
) (domain.TOTPEnrollment, error) {
	if user.TwoFactorRequired() {
		return domain.TOTPEnrollment{}, ErrTwoFactorAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: user.Email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.TOTPEnrollment{}, fmt.Errorf("generate totp key: %w", err)
	}

	if err := s.Store.Users().UpdateTOTPSecret(ctx, user.ID, key.Secret()); err != nil {
		return domain.TOTPEnrollment{}, err
	}

	return domain.TOTPEnrollment{
		Secret:  key.Secret(),
		URL:     key.URL(),
		Issuer:  s.Issuer,
		Account: user.Email,
	}, nil
}

// ActivateTOTP verifies a code from the enrolled authenticator, enables
// the second factor, and returns the user's fresh backup code set. The
// plaintext codes are shown exactly once; only fingerprints are stored.
func (s *TwoFactorService) ActivateTOTP(
	ctx context.Context,
	userID, code string,
) ([]string, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.TwoFactorRequired() {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if user.TOTPSecret == nil || *user.TOTPSecret == "" {
		return nil, ErrNotEnrolled
	}
	if !totp.Validate(code, *user.TOTPSecret) {
		return nil, ErrInvalidTOTPCode
	}

	codes, err := newBackupCodeSet()
	if err != nil {
		return nil, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		for _, c := range codes {
			hash := cryptox.FingerprintToken(cryptox.NormalizeBackupCode(c))
			if err := tx.BackupCodes().CreateBackupCode(ctx, userID, hash); err != nil {
				return err
			}
		}
		return tx.Users().EnableTwoFactor(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	return codes, nil
}

// RegenerateBackupCodes replaces the user's backup code set. Old codes
// stop working the moment this commits.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !user.TwoFactorRequired() {
		return nil, ErrTwoFactorNotEnabled
	}

	codes, err := newBackupCodeSet()
	if err != nil {
		return nil, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return err
		}
		for _, c := range codes {
			hash := cryptox.FingerprintToken(cryptox.NormalizeBackupCode(c))
			if err := tx.BackupCodes().CreateBackupCode(ctx, userID, hash); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return codes, nil
}

// Disable turns the second factor off: clears the flag and secret and
// drops the backup code set, all or nothing.
func (s *TwoFactorService) Disable(ctx context.Context, userID string) error {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if !user.TwoFactorRequired() {
		return ErrTwoFactorNotEnabled
	}

	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return err
		}
		if err := tx.Challenges().DeleteChallenge(ctx, userID); err != nil {
			return err
		}
		return tx.Users().DisableTwoFactor(ctx, userID)
	})
}

// newBackupCodeSet draws a full set of backup codes, redrawing on the
// off chance two come out identical. Codes must be unique within a set;
// the storage key would otherwise reject the duplicate mid-activation.
func newBackupCodeSet() ([]string, error) {
	codes := make([]string, 0, domain.BackupCodeCount)
	seen := make(map[string]struct{}, domain.BackupCodeCount)
	for len(codes) < domain.BackupCodeCount {
		c, err := cryptox.NewBackupCode()
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		norm := cryptox.NormalizeBackupCode(c)
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		codes = append(codes, c)
	}
	return codes, nil
}
