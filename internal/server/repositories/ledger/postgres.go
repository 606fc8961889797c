package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/dmitrijs2005/walletkeeper/internal/dbx"
	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/shopspring/decimal"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const entryColumns = `id, account_id, period, amount, likes, comments, status,
		 COALESCE(tx_signature, ''), created_at, confirmed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	e := &models.LedgerEntry{}
	err := row.Scan(&e.ID, &e.AccountID, &e.Period, &e.Amount, &e.Likes, &e.Comments,
		&e.Status, &e.TxSignature, &e.CreatedAt, &e.ConfirmedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *PostgresRepository) Reserve(ctx context.Context, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	query :=
		`INSERT INTO reward_ledger (account_id, period, amount, likes, comments, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		entry.AccountID, entry.Period, entry.Amount, entry.Likes, entry.Comments, models.LedgerPending).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, "reward_ledger_account_period_key") {
			return nil, common.ErrDuplicate
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	entry.Status = models.LedgerPending
	return entry, nil
}

func (r *PostgresRepository) Find(ctx context.Context, accountID, period string) (*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM reward_ledger
		 WHERE account_id = $1 AND period = $2`

	e, err := scanEntry(r.db.QueryRowContext(ctx, query, accountID, period))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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

func (r *PostgresRepository) SetSignature(ctx context.Context, id, signature string) error {
	query :=
		`UPDATE reward_ledger SET tx_signature = $2
		 WHERE id = $1 AND status = 'pending'`

	return r.exec(ctx, query, id, signature)
}

func (r *PostgresRepository) MarkConfirmed(ctx context.Context, id, signature string) error {
	query :=
		`UPDATE reward_ledger SET status = 'confirmed', tx_signature = $2, confirmed_at = now()
		 WHERE id = $1 AND status <> 'confirmed'`

	return r.exec(ctx, query, id, signature)
}

func (r *PostgresRepository) MarkUncertain(ctx context.Context, id, signature string) error {
	query :=
		`UPDATE reward_ledger SET status = 'uncertain', tx_signature = COALESCE(NULLIF($2, ''), tx_signature)
		 WHERE id = $1 AND status = 'pending'`

	return r.exec(ctx, query, id, signature)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query :=
		`DELETE FROM reward_ledger WHERE id = $1 AND status <> 'confirmed'`

	return r.exec(ctx, query, id)
}

func (r *PostgresRepository) Sums(ctx context.Context, accountID string) (decimal.Decimal, decimal.Decimal, error) {
	query :=
		`SELECT COALESCE(SUM(amount), 0),
		        COALESCE(SUM(amount) FILTER (WHERE status = 'confirmed'), 0)
		 FROM reward_ledger WHERE account_id = $1`

	var all, confirmed decimal.Decimal
	if err := r.db.QueryRowContext(ctx, query, accountID).Scan(&all, &confirmed); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("db error: %w", err)
	}
	return all, confirmed, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM reward_ledger
		 WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`

	return r.list(ctx, query, accountID, limit)
}

func (r *PostgresRepository) ListUnsettled(ctx context.Context, pendingBefore time.Time, limit int) ([]*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM reward_ledger
		 WHERE status = 'uncertain' OR (status = 'pending' AND created_at < $1)
		 ORDER BY created_at LIMIT $2`

	return r.list(ctx, query, pendingBefore, limit)
}
