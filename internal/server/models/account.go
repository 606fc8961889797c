// Package models defines server-side data models persisted in the database.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role controls which operations an account may perform.
type Role string

const (
	RoleStandard Role = "standard"
	RoleCreator  Role = "creator"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStandard, RoleCreator, RoleAdmin:
		return true
	}
	return false
}

// CanClaimRewards reports whether the role may claim creator rewards.
func (r Role) CanClaimRewards() bool {
	return r == RoleCreator || r == RoleAdmin
}

// Asset names a balance bucket.
type Asset string

const (
	AssetSOL Asset = "SOL"
	AssetSKR Asset = "SKR"
)

// Balances are the stored token balances of an account. They change only
// after a confirmed chain operation.
type Balances struct {
	SOL decimal.Decimal `json:"SOL"`
	SKR decimal.Decimal `json:"SKR"`
}

// Account is a platform user with a custodial wallet.
type Account struct {
	ID           string
	Handle       string
	Contact      string
	PasswordHash string
	Role         Role
	// WalletAddress is the base58 public key; immutable once set.
	WalletAddress string
	// EncryptedKey is the sealed private key. It is loaded only by
	// accounts.Repository.GetWithKey and is empty everywhere else.
	EncryptedKey string
	Balances     Balances
	// Version is bumped by every balance mutation (optimistic concurrency).
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
