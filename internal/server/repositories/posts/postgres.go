package posts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/dmitrijs2005/walletkeeper/internal/dbx"
	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) EngagementTotals(ctx context.Context, ownerID string) (Totals, error) {
	query :=
		`SELECT COUNT(*), COALESCE(SUM(like_count), 0), COALESCE(SUM(comment_count), 0)
		 FROM posts WHERE owner_id = $1`

	var t Totals
	if err := r.db.QueryRowContext(ctx, query, ownerID).Scan(&t.Posts, &t.Likes, &t.Comments); err != nil {
		return Totals{}, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Post, error) {
	query :=
		`SELECT id, owner_id, tokenized, COALESCE(token_mint_address, ''), like_count, comment_count
		 FROM posts WHERE id = $1`

	p := &models.Post{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&p.ID, &p.OwnerID, &p.Tokenized, &p.TokenMintAddress, &p.LikeCount, &p.CommentCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	p.PostID = p.ID
	return p, nil
}

func (r *PostgresRepository) MarkTokenized(ctx context.Context, id, mintAddress string) error {
	query :=
		`UPDATE posts SET tokenized = true, token_mint_address = $2
		 WHERE id = $1 AND NOT tokenized`

	res, err := r.db.ExecContext(ctx, query, id, mintAddress)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: post already tokenized", common.ErrConflict)
	}
	return nil
}
