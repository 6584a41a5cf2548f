package service

import "errors"

// Sentinel errors returned by the session and second-factor services.
// Handlers map these onto HTTP statuses; anything not listed here is an
// infrastructure failure and surfaces as a 5xx.
var (
	// ErrInvalidCredentials covers both unknown emails and wrong
	// passwords so a caller cannot probe which accounts exist.
	ErrInvalidCredentials = errors.New("invalid_credentials")

	// ErrInvalidOrExpired is returned for a refresh token that is
	// unknown, revoked, or past its expiry. The caller cannot tell
	// which, and that is deliberate.
	ErrInvalidOrExpired = errors.New("invalid_or_expired_token")

	// ErrTokenReuseDetected marks a replay: a refresh token that was
	// already exchanged is being presented again. Every session for
	// the owning user has been revoked by the time this is returned.
	ErrTokenReuseDetected = errors.New("token_reuse_detected")

	// ErrNoActiveChallenge means no pending second-factor challenge
	// exists for the user.
	ErrNoActiveChallenge = errors.New("no_active_challenge")

	// ErrInvalidCode is a wrong second-factor code; the attempt budget
	// has been decremented.
	ErrInvalidCode = errors.New("invalid_code")

	// ErrChallengeExpired means the challenge's validity window closed
	// before a correct code arrived.
	ErrChallengeExpired = errors.New("challenge_expired")

	// ErrAttemptsExhausted means the challenge's attempt budget is
	// spent. The challenge is gone; the user must restart login.
	ErrAttemptsExhausted = errors.New("attempts_exhausted")

	// ErrTwoFactorNotEnabled is returned for second-factor operations
	// on a user who has not enabled one.
	ErrTwoFactorNotEnabled = errors.New("twofactor_not_enabled")

	// ErrTwoFactorAlreadyEnabled guards double enrollment.
	ErrTwoFactorAlreadyEnabled = errors.New("twofactor_already_enabled")

	// ErrNotEnrolled is returned when activation is attempted before
	// an authenticator secret has been enrolled.
	ErrNotEnrolled = errors.New("totp_not_enrolled")

	// ErrInvalidTOTPCode is a wrong authenticator code during
	// enrollment activation.
	ErrInvalidTOTPCode = errors.New("invalid_totp_code")

	// ErrUserNotFound is returned by administrative lookups.
	ErrUserNotFound = errors.New("user_not_found")

	// ErrUnsupportedMethod is an unrecognized second-factor method name.
	ErrUnsupportedMethod = errors.New("unsupported_method")

	// ErrRateLimited means the caller's request budget for an action
	// is spent.
	ErrRateLimited = errors.New("rate_limited")
)
