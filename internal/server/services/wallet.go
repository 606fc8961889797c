package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/dmitrijs2005/walletkeeper/internal/dbx"
	"github.com/dmitrijs2005/walletkeeper/internal/keyvault"
	"github.com/dmitrijs2005/walletkeeper/internal/logging"
	"github.com/dmitrijs2005/walletkeeper/internal/server/chain"
	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/repomanager"
	"github.com/shopspring/decimal"
)

// SendResult describes a confirmed SKR send.
type SendResult struct {
	TxSignature string
	NewBalance  decimal.Decimal
	// RecipientID is set when the destination wallet belongs to the platform.
	RecipientID string
}

// WalletService moves SKR out of custodial wallets. It shares the
// per-account lock with RewardEngine so a send and a claim never interleave.
type WalletService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	vault       *keyvault.Vault
	chain       Chain
	locks       *KeyedMutex
	logger      logging.Logger
}

func NewWalletService(db *sql.DB, m repomanager.RepositoryManager, vault *keyvault.Vault, chain Chain,
	locks *KeyedMutex, logger logging.Logger) *WalletService {
	return &WalletService{db: db, repomanager: m, vault: vault, chain: chain, locks: locks, logger: logger}
}

// Send transfers amount SKR from the account's wallet to toAddress. Stored
// balances change only after the transfer is confirmed.
func (s *WalletService) Send(ctx context.Context, accountID, toAddress string, amount decimal.Decimal) (*SendResult, error) {
	if !keyvault.IsValidAddress(toAddress) {
		return nil, fmt.Errorf("%w: invalid destination address", common.ErrValidation)
	}
	mint := s.chain.RewardMintAddress()
	if mint == "" {
		return nil, fmt.Errorf("%w: reward token mint", common.ErrNotConfigured)
	}
	units, err := chain.ToBaseUnits(amount, s.chain.RewardDecimals())
	if err != nil {
		return nil, err
	}

	accounts := s.repomanager.Accounts(s.db)

	recipientID := ""
	recipient, err := accounts.GetByWallet(ctx, toAddress)
	switch {
	case err == nil:
		recipientID = recipient.ID
	case !errors.Is(err, common.ErrNotFound):
		return nil, err
	}

	unlock := s.locks.LockMany(accountKey(accountID), keyOrEmpty(recipientID))
	defer unlock()

	sender, err := accounts.GetWithKey(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sender.WalletAddress == toAddress {
		return nil, fmt.Errorf("%w: cannot send to own wallet", common.ErrValidation)
	}
	if sender.Balances.SKR.LessThan(amount) {
		return nil, common.ErrInsufficientBalance
	}

	owner, err := openAccountKey(ctx, s.vault, s.repomanager, s.db, s.logger, sender)
	if err != nil {
		return nil, err
	}
	trade := &models.Trade{
		Kind:        models.TradeSend,
		MintAddress: mint,
		FromAccount: accountID,
		ToAccount:   recipientID,
		ToAddress:   toAddress,
		Amount:      amount,
	}

	sig, err := s.chain.Transfer(ctx, mint, sender.WalletAddress, toAddress, units, owner)
	common.WipeByteArray(owner)
	if err != nil {
		s.logger.Warn(ctx, "send failed", "account_id", accountID, "to", toAddress, "error", err)
		recordUncertainTrade(ctx, s.repomanager, s.db, s.logger, trade, err)
		return nil, err
	}
	trade.TxSignature = sig

	var balance decimal.Decimal
	err = retryOnVersionConflict(func() error {
		return withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			var err error
			if balance, err = s.applySend(ctx, tx, trade); err != nil {
				return err
			}
			return s.repomanager.Trades(tx).Create(ctx, trade)
		})
	})
	if err != nil {
		s.logger.Error(ctx, "send confirmed on chain but not recorded", "account_id", accountID, "signature", sig, "error", err)
		return nil, fmt.Errorf("error recording send: %w", err)
	}

	s.logger.Info(ctx, "send confirmed", "account_id", accountID, "to", toAddress, "amount", amount.String(), "signature", sig)
	return &SendResult{TxSignature: sig, NewBalance: balance, RecipientID: recipientID}, nil
}

// applySend moves a confirmed send's amount between stored balances and
// returns the sender's new balance.
func (s *WalletService) applySend(ctx context.Context, tx dbx.DBTX, t *models.Trade) (decimal.Decimal, error) {
	accounts := s.repomanager.Accounts(tx)
	from, err := accounts.GetByID(ctx, t.FromAccount)
	if err != nil {
		return decimal.Zero, err
	}
	balance, _, err := accounts.AddBalance(ctx, t.FromAccount, models.AssetSKR, t.Amount.Neg(), from.Version)
	if err != nil {
		return decimal.Zero, err
	}
	if t.ToAccount != "" {
		to, err := accounts.GetByID(ctx, t.ToAccount)
		if err != nil {
			return decimal.Zero, err
		}
		if _, _, err := accounts.AddBalance(ctx, t.ToAccount, models.AssetSKR, t.Amount, to.Version); err != nil {
			return decimal.Zero, err
		}
	}
	return balance, nil
}

// History returns the account's sends and NFT transfers, newest first.
func (s *WalletService) History(ctx context.Context, accountID string, limit int) ([]*models.Trade, error) {
	if _, err := s.repomanager.Accounts(s.db).GetByID(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repomanager.Trades(s.db).ListByAccount(ctx, accountID, historyLimit(limit))
}

// ReconcileSends settles sends whose outcome was unknown: a confirmed
// signature moves the balances, a failed one marks the trade failed.
func (s *WalletService) ReconcileSends(ctx context.Context) (int, error) {
	return reconcileTrades(ctx, s.db, s.repomanager, s.chain, s.locks, s.logger, tradeSettlement{
		kind: models.TradeSend,
		lockKeys: func(t *models.Trade) []string {
			return []string{accountKey(t.FromAccount), keyOrEmpty(t.ToAccount)}
		},
		apply: func(ctx context.Context, tx dbx.DBTX, t *models.Trade) error {
			_, err := s.applySend(ctx, tx, t)
			return err
		},
	})
}

func keyOrEmpty(accountID string) string {
	if accountID == "" {
		return ""
	}
	return accountKey(accountID)
}
