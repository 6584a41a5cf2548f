package domain

import "time"

// Second-factor design values.
const (
	// ChallengeCodeDigits is the length of a delivered challenge code.
	ChallengeCodeDigits = 6

	// ChallengeTTL is how long a delivered code stays valid.
	ChallengeTTL = 5 * time.Minute

	// ChallengeMaxAttempts is the number of verification attempts per
	// challenge before it is permanently exhausted.
	ChallengeMaxAttempts = 5

	// BackupCodeCount is the size of a user's backup code set.
	BackupCodeCount = 10
)

// Challenge is a pending second-factor challenge. At most one exists per
// user; issuing a new one replaces it.
type Challenge struct {
	ID           string // opaque handle returned to the caller
	UserID       string
	CodeHash     string // fingerprint of the delivered numeric code
	ExpiresAt    time.Time
	AttemptsLeft int
	CreatedAt    time.Time
}

// ChallengeHandle is what login returns when a second factor is required.
// The code itself travels via the notifier, never in this response.
type ChallengeHandle struct {
	ChallengeID string   `json:"challenge_id"`
	Methods     []string `json:"methods"` // e.g. ["code", "totp", "backup_code"]
}

// TOTPEnrollment is returned when a user enrolls an authenticator app.
type TOTPEnrollment struct {
	Secret  string // base32 secret
	URL     string // otpauth:// URL for QR rendering
	Issuer  string
	Account string
}
