package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

const accountColumns = `id, handle, contact, password_hash, role, wallet_address,
		 balance_sol, balance_skr, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner, extra ...any) (*models.Account, error) {
	a := &models.Account{}
	dest := []any{&a.ID, &a.Handle, &a.Contact, &a.PasswordHash, &a.Role, &a.WalletAddress,
		&a.Balances.SOL, &a.Balances.SKR, &a.Version, &a.CreatedAt, &a.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	query :=
		`INSERT INTO accounts (handle, contact, password_hash, role, wallet_address, encrypted_key)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, version, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		account.Handle, account.Contact, account.PasswordHash, account.Role,
		account.WalletAddress, account.EncryptedKey).
		Scan(&account.ID, &account.Version, &account.CreatedAt, &account.UpdatedAt)

	if err != nil {
		switch {
		case dbx.IsUniqueViolation(err, "accounts_handle_key"):
			return nil, fmt.Errorf("%w: handle already registered", common.ErrConflict)
		case dbx.IsUniqueViolation(err, "accounts_contact_key"):
			return nil, fmt.Errorf("%w: contact already registered", common.ErrConflict)
		case dbx.IsUniqueViolation(err, ""):
			return nil, fmt.Errorf("%w: %v", common.ErrConflict, err)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	account.Balances = models.Balances{SOL: decimal.Zero, SKR: decimal.Zero}
	return account, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, arg any) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + where

	a, err := scanAccount(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.getOne(ctx, `id = $1`, id)
}

func (r *PostgresRepository) GetByContact(ctx context.Context, contact string) (*models.Account, error) {
	return r.getOne(ctx, `contact = $1`, contact)
}

func (r *PostgresRepository) GetByWallet(ctx context.Context, address string) (*models.Account, error) {
	return r.getOne(ctx, `wallet_address = $1`, address)
}

func (r *PostgresRepository) GetWithKey(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + `, encrypted_key FROM accounts WHERE id = $1`

	var key string
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, id), &key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	a.EncryptedKey = key
	return a, nil
}

func (r *PostgresRepository) ExistsHandleOrContact(ctx context.Context, handle, contact string) (bool, error) {
	query :=
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE handle = $1 OR contact = $2)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, handle, contact).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func balanceColumn(asset models.Asset) (string, error) {
	switch asset {
	case models.AssetSOL:
		return "balance_sol", nil
	case models.AssetSKR:
		return "balance_skr", nil
	}
	return "", fmt.Errorf("%w: unknown asset %q", common.ErrValidation, asset)
}

func (r *PostgresRepository) AddBalance(ctx context.Context, id string, asset models.Asset, delta decimal.Decimal, expectedVersion int64) (decimal.Decimal, int64, error) {
	col, err := balanceColumn(asset)
	if err != nil {
		return decimal.Zero, 0, err
	}

	query :=
		`UPDATE accounts SET ` + col + ` = ` + col + ` + $2, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $3 AND ` + col + ` + $2 >= 0
		 RETURNING ` + col + `, version
		 `

	var balance decimal.Decimal
	var version int64
	err = r.db.QueryRowContext(ctx, query, id, delta, expectedVersion).Scan(&balance, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, 0, r.whyNotUpdated(ctx, id, col, delta, expectedVersion)
		}
		return decimal.Zero, 0, fmt.Errorf("db error: %w", err)
	}
	return balance, version, nil
}

// whyNotUpdated tells a stale version apart from a balance that would go
// negative after a guarded update matched no row.
func (r *PostgresRepository) whyNotUpdated(ctx context.Context, id, col string, delta decimal.Decimal, expectedVersion int64) error {
	query := `SELECT ` + col + `, version FROM accounts WHERE id = $1`

	var balance decimal.Decimal
	var version int64
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&balance, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	if version == expectedVersion && balance.Add(delta).IsNegative() {
		return common.ErrInsufficientBalance
	}
	return common.ErrVersionConflict
}

func (r *PostgresRepository) SetRole(ctx context.Context, id string, role models.Role) error {
	query :=
		`UPDATE accounts SET role = $2, updated_at = now() WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, role)
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

func (r *PostgresRepository) ListByRole(ctx context.Context, role models.Role, afterID string, limit int) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts
		 WHERE role = $1 AND ($2 = '' OR id::text > $2)
		 ORDER BY id::text
		 LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, role, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
