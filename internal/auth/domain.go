package auth

import "time"

// User represents a back-office account.
type User struct {
	ID        int64
	Email     string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// APIToken is an issued access token. Only the bcrypt hash of the secret is
// stored; the plaintext is shown once at issue time.
type APIToken struct {
	ID         int64
	UserID     int64
	Label      string
	Prefix     string
	SecretHash string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// Expired reports whether the token has passed its expiry.
func (t APIToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}
