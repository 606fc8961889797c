// Package posts reads post engagement and records post tokenization.
package posts

import (
	"context"

	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
)

// Totals aggregates engagement across every post of one owner.
type Totals struct {
	Posts    int64
	Likes    int64
	Comments int64
}

type Repository interface {
	EngagementTotals(ctx context.Context, ownerID string) (Totals, error)
	Get(ctx context.Context, id string) (*models.Post, error)
	// MarkTokenized links a post to its NFT mint. A post can be tokenized
	// once; a second call returns common.ErrConflict.
	MarkTokenized(ctx context.Context, id, mintAddress string) error
}
