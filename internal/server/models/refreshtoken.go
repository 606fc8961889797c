package models

import "time"

// RefreshToken is an opaque single-use token. Rotating it deletes the old row.
type RefreshToken struct {
	AccountID string
	Token     string
	Expires   time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.Expires)
}
