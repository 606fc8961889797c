package trades

import (
	"context"
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

const tradeColumns = `id, kind, status, mint_address, from_account, COALESCE(to_account::text, ''),
		 to_address, amount, tx_signature, created_at`

func (r *PostgresRepository) Create(ctx context.Context, trade *models.Trade) error {
	query :=
		`INSERT INTO trades (kind, status, mint_address, from_account, to_account, to_address, amount, tx_signature)
		 VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7, $8)
		 RETURNING id, created_at
		 `

	if trade.Status == "" {
		trade.Status = models.TradeConfirmed
	}
	err := r.db.QueryRowContext(ctx, query,
		trade.Kind, trade.Status, trade.MintAddress, trade.FromAccount, trade.ToAccount, trade.ToAddress,
		trade.Amount, trade.TxSignature).
		Scan(&trade.ID, &trade.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Trade
	for rows.Next() {
		t := &models.Trade{}
		if err := rows.Scan(&t.ID, &t.Kind, &t.Status, &t.MintAddress, &t.FromAccount, &t.ToAccount,
			&t.ToAddress, &t.Amount, &t.TxSignature, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.Trade, error) {
	query := `SELECT ` + tradeColumns + `
		 FROM trades
		 WHERE from_account = $1 OR to_account = $1
		 ORDER BY created_at DESC
		 LIMIT $2`

	return r.list(ctx, query, accountID, limit)
}

func (r *PostgresRepository) ListUncertain(ctx context.Context, kind models.TradeKind, limit int) ([]*models.Trade, error) {
	query := `SELECT ` + tradeColumns + `
		 FROM trades
		 WHERE status = 'uncertain' AND kind = $1
		 ORDER BY created_at
		 LIMIT $2`

	return r.list(ctx, query, kind, limit)
}

func (r *PostgresRepository) Settle(ctx context.Context, id string, status models.TradeStatus) error {
	query :=
		`UPDATE trades SET status = $2 WHERE id = $1 AND status = 'uncertain'`

	res, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
