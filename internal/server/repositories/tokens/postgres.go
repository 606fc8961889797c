package tokens

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

const tokenColumns = `mint_address, owner_id, COALESCE(post_id::text, ''), kind, name, symbol,
		 decimals, supply, tx_signature, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*models.Token, error) {
	t := &models.Token{}
	err := row.Scan(&t.MintAddress, &t.OwnerID, &t.PostID, &t.Kind, &t.Name, &t.Symbol,
		&t.Decimals, &t.Supply, &t.TxSignature, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *PostgresRepository) Create(ctx context.Context, token *models.Token) error {
	query :=
		`INSERT INTO tokens (mint_address, owner_id, post_id, kind, name, symbol, decimals, supply, tx_signature)
		 VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		token.MintAddress, token.OwnerID, token.PostID, token.Kind, token.Name, token.Symbol,
		int64(token.Decimals), int64(token.Supply), token.TxSignature).
		Scan(&token.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, "") {
			return fmt.Errorf("%w: mint already recorded", common.ErrConflict)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, mintAddress string) (*models.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE mint_address = $1`

	t, err := scanToken(r.db.QueryRowContext(ctx, query, mintAddress))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE owner_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) UpdateOwner(ctx context.Context, mintAddress, fromOwner, toOwner string) error {
	query :=
		`UPDATE tokens SET owner_id = $3 WHERE mint_address = $1 AND owner_id = $2`

	res, err := r.db.ExecContext(ctx, query, mintAddress, fromOwner, toOwner)
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
