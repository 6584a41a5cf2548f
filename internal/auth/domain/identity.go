package domain

import "time"

// Identity is the per-token snapshot of who a user was at issuance time.
// It is copied into access tokens and is NOT live: role changes only take
// effect when a new token is minted.
type Identity struct {
	ID          string
	Email       string
	DisplayName string
	Roles       []string
}

// User is the stored user record, the source of truth an Identity snapshot
// is taken from.
type User struct {
	ID               string
	Email            string
	DisplayName      string
	PasswordHash     string     // argon2id, PHC encoded
	Roles            []string   // role names
	TwoFactorEnabled *time.Time // when 2FA was enabled (nil = disabled)
	TOTPSecret       *string    // base32 TOTP secret (nil until enrolled)
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Identity returns the issuance-time snapshot for this user.
func (u User) Identity() Identity {
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)

	return Identity{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Roles:       roles,
	}
}

// TwoFactorRequired reports whether login completion must pass a second
// factor for this user.
func (u User) TwoFactorRequired() bool {
	return u.TwoFactorEnabled != nil
}
