package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/attendgrid/sessiond/internal/auth/domain"
	"github.com/attendgrid/sessiond/internal/auth/store"
	"github.com/attendgrid/sessiond/pkg/cryptox"
	"github.com/attendgrid/sessiond/pkg/idx"
	"github.com/attendgrid/sessiond/pkg/slogx"
)

// LoginResult is what a password login produces: either a completed
// session or a pending second-factor challenge, never both.
type LoginResult struct {
	TwoFactorRequired bool
	Challenge         domain.ChallengeHandle
	Tokens            domain.TokenPair
}

// SessionService orchestrates the login, second-factor completion,
// refresh, and logout flows across the underlying services.
type SessionService struct {
	Store     store.Store
	Refresh   *RefreshService
	TwoFactor *TwoFactorService
	Gate      *SecurityGate
}

// Login verifies a password and either opens a session or issues a
// second-factor challenge. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *SessionService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn comparable time so unknown emails don't answer faster
			// than wrong passwords.
			_ = cryptox.VerifyPassword(password, dummyPasswordHash())
			s.auditLoginFailed(ctx, "", "unknown email")
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := cryptox.VerifyPassword(password, user.PasswordHash); err != nil {
		s.auditLoginFailed(ctx, user.ID, "password mismatch")
		return LoginResult{}, ErrInvalidCredentials
	}

	if user.TwoFactorRequired() {
		handle, err := s.TwoFactor.IssueChallenge(ctx, user)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{TwoFactorRequired: true, Challenge: handle}, nil
	}

	pair, err := s.Refresh.Issue(ctx, user.Identity())
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Tokens: pair}, nil
}

// CompleteTwoFactor finishes a pending login with a second factor. The
// method names are MethodCode, MethodTOTP, and MethodBackupCode; each
// verifies against its own material and only a success mints tokens.
func (s *SessionService) CompleteTwoFactor(
	ctx context.Context,
	email, method, code string,
) (domain.TokenPair, error) {
	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrNoActiveChallenge
		}
		return domain.TokenPair{}, err
	}

	switch method {
	case MethodCode:
		err = s.TwoFactor.VerifyCode(ctx, user.ID, code)
	case MethodTOTP:
		err = s.TwoFactor.VerifyTOTP(ctx, user, code)
	case MethodBackupCode:
		err = s.TwoFactor.ConsumeBackupCode(ctx, user.ID, code)
	default:
		return domain.TokenPair{}, ErrUnsupportedMethod
	}
	if err != nil {
		return domain.TokenPair{}, err
	}

	return s.Refresh.Issue(ctx, user.Identity())
}

// ResendChallenge re-issues the pending second-factor challenge with a
// fresh code. Silently does nothing when no pending challenge exists, so
// the endpoint answers identically for unknown emails.
func (s *SessionService) ResendChallenge(ctx context.Context, email string) error {
	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if !user.TwoFactorRequired() {
		return nil
	}

	if _, err := s.Store.Challenges().GetChallengeByUserID(ctx, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	_, err = s.TwoFactor.IssueChallenge(ctx, user)
	return err
}

// RenewSession exchanges a refresh token for a new token pair.
func (s *SessionService) RenewSession(ctx context.Context, rawToken string) (domain.TokenPair, error) {
	return s.Refresh.Rotate(ctx, rawToken)
}

// Logout ends the session the refresh token belongs to. Idempotent.
func (s *SessionService) Logout(ctx context.Context, rawToken string) error {
	return s.Refresh.Revoke(ctx, rawToken)
}

// LogoutAll ends every session the user holds and records the
// revocation.
func (s *SessionService) LogoutAll(ctx context.Context, userID string) error {
	if err := s.Refresh.RevokeAll(ctx, userID); err != nil {
		return err
	}
	s.Gate.Audit(ctx, domain.AuditEvent{
		ID:      idx.New().String(),
		Type:    domain.AuditSessionsRevoked,
		Details: "all sessions revoked at user request",
		UserID:  userID,
	})
	return nil
}

func (s *SessionService) auditLoginFailed(ctx context.Context, userID, detail string) {
	slogx.FromContext(ctx).Info("login failed", slog.String("reason", detail))
	s.Gate.Audit(ctx, domain.AuditEvent{
		ID:      idx.New().String(),
		Type:    domain.AuditLoginFailed,
		Details: detail,
		UserID:  userID,
	})
}

// dummyPasswordHash is a valid argon2id hash of an unguessable value,
// used to equalize timing when the email is unknown. Built lazily so the
// pepper path can be configured first.
var dummyPasswordHash = sync.OnceValue(func() string {
	h, err := cryptox.HashPassword(cryptox.MustGenerateToken(cryptox.TokenSize256))
	if err != nil {
		panic(err)
	}
	return h
})
