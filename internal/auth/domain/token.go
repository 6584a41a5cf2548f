package domain

import "time"

// TokenPair is what the session endpoints return: the short-lived access
// token (JWT) and the opaque refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string        // "Bearer"
	ExpiresIn    time.Duration // access token lifetime
}

// RefreshToken models the stored refresh token record. The raw token value
// is never stored; only its fingerprint is.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string // base64url SHA-256 fingerprint of the opaque value
	ExpiresAt time.Time
	RotatedAt *time.Time // set when exchanged for a successor; a rotated token presented again is a replay
	Revoked   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the record can still be rotated at the given time.
func (t RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && t.RotatedAt == nil && now.Before(t.ExpiresAt)
}
