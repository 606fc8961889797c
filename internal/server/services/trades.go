package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/walletkeeper/internal/dbx"
	"github.com/dmitrijs2005/walletkeeper/internal/logging"
	"github.com/dmitrijs2005/walletkeeper/internal/server/chain"
	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/repomanager"
	"go.uber.org/multierr"
)

// tradeBatch bounds how many uncertain trades one reconciliation pass reads.
const tradeBatch = 200

// maxHistory caps a single history page.
const maxHistory = 100

func historyLimit(limit int) int {
	if limit <= 0 || limit > maxHistory {
		return maxHistory
	}
	return limit
}

// recordUncertainTrade stores trade as uncertain when err says the transfer
// may have been broadcast. Balances and ownership are left alone until
// reconciliation sees the signature.
func recordUncertainTrade(ctx context.Context, m repomanager.RepositoryManager, db *sql.DB,
	logger logging.Logger, trade *models.Trade, err error) {
	var ce *chain.ChainError
	if !errors.As(err, &ce) || !ce.Uncertain() || ce.Signature == "" {
		return
	}
	trade.Status = models.TradeUncertain
	trade.TxSignature = ce.Signature
	if cerr := m.Trades(db).Create(context.WithoutCancel(ctx), trade); cerr != nil {
		logger.Error(ctx, "failed to record uncertain trade", "kind", trade.Kind, "signature", ce.Signature, "error", cerr)
		return
	}
	logger.Warn(ctx, "trade outcome unknown, left for reconciliation",
		"trade_id", trade.ID, "kind", trade.Kind, "signature", ce.Signature)
}

// tradeSettlement describes how reconciliation applies a confirmed trade of
// one kind.
type tradeSettlement struct {
	kind models.TradeKind
	// lockKeys names the locks held while the trade is applied.
	lockKeys func(t *models.Trade) []string
	// apply runs in the transaction that marks the trade confirmed.
	apply func(ctx context.Context, tx dbx.DBTX, t *models.Trade) error
}

// reconcileTrades resolves uncertain trades of one kind from the chain's view
// of their signatures and returns how many were resolved either way.
func reconcileTrades(ctx context.Context, db *sql.DB, m repomanager.RepositoryManager, c Chain,
	locks *KeyedMutex, logger logging.Logger, s tradeSettlement) (int, error) {
	pending, err := m.Trades(db).ListUncertain(ctx, s.kind, tradeBatch)
	if err != nil {
		return 0, err
	}

	resolved := 0
	var errs error
	for _, t := range pending {
		status, err := c.SignatureStatus(ctx, t.TxSignature)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("trade %s: %w", t.ID, err))
			continue
		}

		log := logger.With("trade_id", t.ID, "kind", t.Kind, "signature", t.TxSignature)
		switch status {
		case chain.TxConfirmed:
			err = settleConfirmedTrade(ctx, db, m, locks, s, t)
		case chain.TxFailed:
			err = m.Trades(db).Settle(ctx, t.ID, models.TradeFailed)
		default:
			log.Debug(ctx, "trade still unresolved")
			continue
		}
		if err != nil {
			log.Error(ctx, "trade reconciliation failed", "status", status.String(), "error", err)
			errs = multierr.Append(errs, fmt.Errorf("trade %s: %w", t.ID, err))
			continue
		}
		log.Info(ctx, "trade reconciled", "status", status.String())
		resolved++
	}
	return resolved, errs
}

func settleConfirmedTrade(ctx context.Context, db *sql.DB, m repomanager.RepositoryManager,
	locks *KeyedMutex, s tradeSettlement, t *models.Trade) error {
	unlock := locks.LockMany(s.lockKeys(t)...)
	defer unlock()

	return retryOnVersionConflict(func() error {
		return withTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := m.Trades(tx).Settle(ctx, t.ID, models.TradeConfirmed); err != nil {
				return err
			}
			return s.apply(ctx, tx, t)
		})
	})
}
