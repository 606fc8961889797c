// Package ledger persists reward ledger entries, one per (account, period).
package ledger

import (
	"context"
	"time"

	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/shopspring/decimal"
)

type Repository interface {
	// Reserve inserts a pending entry. A second reservation for the same
	// (account, period) returns common.ErrDuplicate.
	Reserve(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, error)
	Find(ctx context.Context, accountID, period string) (*models.LedgerEntry, error)
	// SetSignature stores the signature of the mint about to be sent on a
	// pending entry, so a crash after broadcast can still be reconciled.
	SetSignature(ctx context.Context, id, signature string) error
	MarkConfirmed(ctx context.Context, id, signature string) error
	MarkUncertain(ctx context.Context, id, signature string) error
	// Delete drops a reservation that never reached the chain. Confirmed
	// entries are never deleted.
	Delete(ctx context.Context, id string) error
	// Sums returns the total of every entry for the account (all statuses) and
	// the total of confirmed entries only.
	Sums(ctx context.Context, accountID string) (all decimal.Decimal, confirmed decimal.Decimal, err error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error)
	// ListUnsettled returns uncertain entries and pending entries created
	// before pendingBefore, oldest first.
	ListUnsettled(ctx context.Context, pendingBefore time.Time, limit int) ([]*models.LedgerEntry, error)
}
