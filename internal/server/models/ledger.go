package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerStatus is the state of a reward ledger entry.
type LedgerStatus string

const (
	// LedgerPending reserves a period while the reward mint is in flight.
	LedgerPending LedgerStatus = "pending"
	// LedgerConfirmed means the mint is confirmed and the balance credited.
	LedgerConfirmed LedgerStatus = "confirmed"
	// LedgerUncertain means the mint may have been broadcast; the entry waits
	// for reconciliation and blocks further payment for the period.
	LedgerUncertain LedgerStatus = "uncertain"
)

// LedgerEntry records one reward payment per (account, period).
type LedgerEntry struct {
	ID        string
	AccountID string
	Period    string
	Amount    decimal.Decimal
	// Likes and Comments snapshot the engagement the amount was computed from.
	Likes       int64
	Comments    int64
	Status      LedgerStatus
	TxSignature string
	CreatedAt   time.Time
	ConfirmedAt *time.Time
}
