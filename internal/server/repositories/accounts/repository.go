// Package accounts stores platform accounts and their custodial wallet data.
package accounts

import (
	"context"

	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/shopspring/decimal"
)

type Repository interface {
	// Create inserts the account with its wallet in one statement. Handle,
	// contact or wallet collisions return common.ErrConflict.
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	// GetWithKey is the only read that returns EncryptedKey.
	GetWithKey(ctx context.Context, id string) (*models.Account, error)
	GetByContact(ctx context.Context, contact string) (*models.Account, error)
	GetByWallet(ctx context.Context, address string) (*models.Account, error)
	ExistsHandleOrContact(ctx context.Context, handle, contact string) (bool, error)
	// AddBalance applies delta to one asset if the stored version still equals
	// expectedVersion, returning the new balance and version.
	AddBalance(ctx context.Context, id string, asset models.Asset, delta decimal.Decimal, expectedVersion int64) (decimal.Decimal, int64, error)
	SetRole(ctx context.Context, id string, role models.Role) error
	// ListByRole pages through accounts ordered by id, starting after afterID.
	ListByRole(ctx context.Context, role models.Role, afterID string, limit int) ([]*models.Account, error)
}
