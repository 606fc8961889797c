// Package common defines shared constants, sentinel errors and small helpers
// used across walletkeeper components. Callers should use errors.Is to match
// the sentinel values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicate       = errors.New("duplicate key")

	// Request errors.
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrInternal     = errors.New("internal error")

	// Token lifecycle errors.
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// Deployment errors: a signing identity or mint is missing.
	ErrNotConfigured = errors.New("not configured")

	// Key material errors.
	ErrIntegrity = errors.New("key material integrity check failed")
	ErrDecode    = errors.New("malformed key material")

	// Wallet and reward errors.
	ErrNoWallet            = errors.New("wallet address not set")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNothingToClaim      = errors.New("no rewards to claim")
	ErrAlreadyClaimed      = wrap(ErrConflict, "rewards already claimed for this period")
	ErrClaimInProgress     = wrap(ErrConflict, "reward claim for this period is in progress")
)

// sentinel is an error that also matches its parent with errors.Is.
type sentinel struct {
	msg    string
	parent error
}

func (e *sentinel) Error() string { return e.msg }
func (e *sentinel) Unwrap() error { return e.parent }

func wrap(parent error, msg string) error {
	return &sentinel{msg: msg, parent: parent}
}
