package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/attendgrid/sessiond/internal/auth/domain"
	"github.com/attendgrid/sessiond/internal/auth/store"
	"github.com/attendgrid/sessiond/pkg/cryptox"
	"github.com/attendgrid/sessiond/pkg/idx"
	"github.com/attendgrid/sessiond/pkg/jwtx"
	"github.com/attendgrid/sessiond/pkg/slogx"
)

// RefreshService owns the refresh token lifecycle: issuing a session's
// token pair, rotating refresh tokens with replay detection, and
// revocation. Refresh tokens are opaque 256-bit values; the store only
// ever sees their fingerprints.
type RefreshService struct {
	Codec      *jwtx.Codec
	Store      store.Store
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Issue mints a fresh token pair for the identity. A user holds at most
// one active session: any refresh tokens still live for the user are
// revoked in the same transaction that records the new one.
func (s *RefreshService) Issue(ctx context.Context, id domain.Identity) (domain.TokenPair, error) {
	now := time.Now()

	access, err := s.Codec.Issue(jwtx.NewAccessClaims(
		id.ID, id.Email, id.DisplayName, id.Roles,
		s.AccessTTL, "", "", now,
	))
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}

	raw, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}

	record := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    id.ID,
		TokenHash: cryptox.FingerprintToken(raw),
		ExpiresAt: now.Add(s.RefreshTTL),
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().RevokeAllUserRefreshTokens(ctx, id.ID); err != nil {
			return err
		}
		return tx.RefreshTokens().CreateRefreshToken(ctx, record)
	})
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    s.AccessTTL,
	}, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token is
// marked rotated and a successor is stored, atomically: of two concurrent
// exchanges of the same token exactly one succeeds.
//
// Presenting a token that was already rotated is treated as theft
// evidence. Every refresh token for the owning user is revoked and
// ErrTokenReuseDetected is returned.
func (s *RefreshService) Rotate(ctx context.Context, rawToken string) (domain.TokenPair, error) {
	now := time.Now()
	hash := cryptox.FingerprintToken(rawToken)

	record, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrInvalidOrExpired
		}
		// Storage trouble is not "your session is gone".
		return domain.TokenPair{}, err
	}

	if record.RotatedAt != nil {
		if err := s.cascadeReplay(ctx, record); err != nil {
			return domain.TokenPair{}, err
		}
		return domain.TokenPair{}, ErrTokenReuseDetected
	}

	if record.Revoked || !now.Before(record.ExpiresAt) {
		return domain.TokenPair{}, ErrInvalidOrExpired
	}

	user, err := s.Store.Users().GetUserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TokenPair{}, ErrInvalidOrExpired
		}
		return domain.TokenPair{}, err
	}
	id := user.Identity()

	access, err := s.Codec.Issue(jwtx.NewAccessClaims(
		id.ID, id.Email, id.DisplayName, id.Roles,
		s.AccessTTL, "", "", now,
	))
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}

	raw, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}

	successor := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    record.UserID,
		TokenHash: cryptox.FingerprintToken(raw),
		ExpiresAt: now.Add(s.RefreshTTL),
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		// CAS: only succeeds if the record is still unrotated. A
		// concurrent winner leaves us with ErrNotFound.
		if err := tx.RefreshTokens().MarkRefreshTokenRotated(ctx, hash); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidOrExpired
			}
			return err
		}
		return tx.RefreshTokens().CreateRefreshToken(ctx, successor)
	})
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    s.AccessTTL,
	}, nil
}

// Revoke invalidates a single refresh token. Unknown tokens are a no-op;
// logout must not fail because the session was already gone.
func (s *RefreshService) Revoke(ctx context.Context, rawToken string) error {
	return s.Store.RefreshTokens().RevokeRefreshToken(ctx, cryptox.FingerprintToken(rawToken))
}

// RevokeAll invalidates every refresh token a user holds.
func (s *RefreshService) RevokeAll(ctx context.Context, userID string) error {
	return s.Store.RefreshTokens().RevokeAllUserRefreshTokens(ctx, userID)
}

// cascadeReplay revokes every session for the token's owner and records
// the incident. Called when a rotated token is presented again.
func (s *RefreshService) cascadeReplay(ctx context.Context, record domain.RefreshToken) error {
	l := slogx.FromContext(ctx)
	l.Warn("refresh token replay detected, revoking all sessions",
		slog.String("user_id", record.UserID),
		slog.String("token_id", record.ID),
	)

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().RevokeAllUserRefreshTokens(ctx, record.UserID); err != nil {
			return err
		}
		return tx.AuditEvents().AppendAuditEvent(ctx, domain.AuditEvent{
			ID:      idx.New().String(),
			Type:    domain.AuditTokenReuseDetected,
			Details: fmt.Sprintf("rotated refresh token %s presented again", record.ID),
			UserID:  record.UserID,
		})
	})
	if err != nil {
		return fmt.Errorf("replay cascade: %w", err)
	}
	return nil
}
