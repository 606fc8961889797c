// Package services contains the server-side business logic: account and
// custodial key management, reward settlement, SKR sends and NFT minting.
//
// Every balance-mutating operation holds the per-account lock from Locks and
// commits its database changes in a single transaction once the chain call
// has confirmed.
package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/dmitrijs2005/walletkeeper/internal/dbx"
	"github.com/dmitrijs2005/walletkeeper/internal/keyvault"
	"github.com/dmitrijs2005/walletkeeper/internal/logging"
	"github.com/dmitrijs2005/walletkeeper/internal/server/chain"
	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/repomanager"
	"github.com/shopspring/decimal"
)

// withTx is replaced in tests by an in-memory transaction runner.
var withTx = dbx.WithTx

// commitAttempts bounds retries of a commit that lost a version race.
const commitAttempts = 3

// Chain is the subset of the chain gateway the services call.
// *chain.Gateway satisfies it.
type Chain interface {
	CreateFungibleToken(ctx context.Context, decimals uint8) (mint string, sig string, err error)
	MintTo(ctx context.Context, mint, destination string, amount uint64) (string, error)
	Transfer(ctx context.Context, mint, from, to string, amount uint64, owner []byte) (string, error)
	RewardMint(ctx context.Context, destination string, amount decimal.Decimal, beforeSend chain.BeforeSend) (string, error)
	RewardMintAddress() string
	RewardDecimals() uint8
	NativeBalance(ctx context.Context, address string) (decimal.Decimal, error)
	SignatureStatus(ctx context.Context, signature string) (chain.TxStatus, error)
}

// isUncertain reports whether err says a transaction may have been broadcast.
func isUncertain(err error) bool {
	var ce *chain.ChainError
	return errors.As(err, &ce) && ce.Uncertain()
}

// retryOnVersionConflict runs fn until it stops failing with a version
// conflict or the attempts are used up.
func retryOnVersionConflict(fn func() error) error {
	var err error
	for i := 0; i < commitAttempts; i++ {
		err = fn()
		if !errors.Is(err, common.ErrVersionConflict) {
			return err
		}
	}
	return err
}

// openAccountKey decrypts an account's sealed key. Integrity and decode
// failures are audited and logged as errors.
func openAccountKey(ctx context.Context, vault *keyvault.Vault, m repomanager.RepositoryManager, db *sql.DB,
	logger logging.Logger, account *models.Account) ([]byte, error) {
	raw, err := vault.Open(account.EncryptedKey)
	if err == nil {
		return raw, nil
	}
	if errors.Is(err, common.ErrIntegrity) || errors.Is(err, common.ErrDecode) {
		logger.Error(ctx, "wallet key failed to open", "account_id", account.ID, "error", err)
		event := &models.AuditEvent{AccountID: account.ID, Kind: models.AuditKeyIntegrityFailed, Detail: err.Error()}
		if aerr := m.Audit(db).Record(ctx, event); aerr != nil {
			logger.Error(ctx, "audit write failed", "account_id", account.ID, "error", aerr)
		}
	}
	return nil, err
}
