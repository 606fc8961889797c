// Package tokens stores mints created through the platform and their current
// custodial owner.
package tokens

import (
	"context"

	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, token *models.Token) error
	Get(ctx context.Context, mintAddress string) (*models.Token, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Token, error)
	// UpdateOwner moves the token from fromOwner to toOwner. It returns
	// common.ErrNotFound if fromOwner no longer holds it.
	UpdateOwner(ctx context.Context, mintAddress, fromOwner, toOwner string) error
}
