// Package trades records transfers initiated by custodial accounts.
package trades

import (
	"context"

	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, trade *models.Trade) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.Trade, error)
	// ListUncertain returns uncertain trades of kind, oldest first.
	ListUncertain(ctx context.Context, kind models.TradeKind, limit int) ([]*models.Trade, error)
	// Settle moves an uncertain trade to status. It returns common.ErrNotFound
	// when the trade is no longer uncertain.
	Settle(ctx context.Context, id string, status models.TradeStatus) error
}
