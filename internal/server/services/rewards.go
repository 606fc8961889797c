package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/dmitrijs2005/walletkeeper/internal/dbx"
	"github.com/dmitrijs2005/walletkeeper/internal/logging"
	"github.com/dmitrijs2005/walletkeeper/internal/server/chain"
	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/posts"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/repomanager"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// Claim outcomes, also used as metric labels.
const (
	OutcomePaid      = "paid"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeUncertain = "uncertain"
)

// reconcileBatch bounds how many unsettled entries one ReconcileAll pass reads.
const reconcileBatch = 500

// defaultStaleAfter is how old a pending entry must be before reconciliation
// assumes the claim that reserved it died.
const defaultStaleAfter = 2 * time.Minute

// PeriodKey names the settlement period containing t. Daily periods use the
// calendar date, hourly periods add the hour, anything else the period start
// to the minute. All keys are UTC.
func PeriodKey(t time.Time, period time.Duration) string {
	start := t.UTC().Truncate(period)
	switch {
	case period == 24*time.Hour:
		return start.Format("2006-01-02")
	case period == time.Hour:
		return start.Format("2006-01-02T15")
	default:
		return start.Format("2006-01-02T15:04Z")
	}
}

// RewardRates are the SKR amounts paid per unit of engagement.
type RewardRates struct {
	PerLike    decimal.Decimal
	PerComment decimal.Decimal
}

// ClaimResult describes a confirmed reward payment.
type ClaimResult struct {
	AmountPaid  decimal.Decimal
	TxSignature string
	NewBalance  decimal.Decimal
	Period      string
}

// DistributionResult is the per-account outcome of a system-initiated run.
type DistributionResult struct {
	AccountID   string          `json:"accountId"`
	Outcome     string          `json:"outcome"`
	Amount      decimal.Decimal `json:"amount"`
	TxSignature string          `json:"txSignature,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

// RewardSummary is what a creator sees on the rewards screen.
type RewardSummary struct {
	Balance         decimal.Decimal
	Pending         decimal.Decimal
	PaidToDate      decimal.Decimal
	Posts           int64
	Likes           int64
	Comments        int64
	Period          string
	ClaimedInPeriod bool
}

// ClaimObserver receives the outcome of every claim and distribution.
type ClaimObserver interface {
	ObserveClaim(outcome string)
}

// RewardEngine turns engagement into SKR balance, at most once per
// (account, period). Accrual is incremental: everything already recorded in
// the ledger, confirmed or not, is subtracted from the gross amount.
type RewardEngine struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	chain       Chain
	locks       *KeyedMutex
	rates       RewardRates
	period      time.Duration
	logger      logging.Logger
	observer    ClaimObserver
	staleAfter  time.Duration
	now         func() time.Time
}

func NewRewardEngine(db *sql.DB, m repomanager.RepositoryManager, chain Chain, locks *KeyedMutex,
	rates RewardRates, period time.Duration, logger logging.Logger, observer ClaimObserver) *RewardEngine {
	return &RewardEngine{
		db:          db,
		repomanager: m,
		chain:       chain,
		locks:       locks,
		rates:       rates,
		period:      period,
		logger:      logger,
		observer:    observer,
		staleAfter:  defaultStaleAfter,
		now:         time.Now,
	}
}

// SetStaleAfter sets how long a pending entry may exist before ReconcileAll
// treats it as abandoned. It must exceed the longest chain write.
func (e *RewardEngine) SetStaleAfter(d time.Duration) {
	if d > 0 {
		e.staleAfter = d
	}
}

func (e *RewardEngine) stale(entry *models.LedgerEntry) bool {
	return entry.Status == models.LedgerPending && entry.CreatedAt.Before(e.now().Add(-e.staleAfter))
}

// CurrentPeriod returns the key of the open settlement period.
func (e *RewardEngine) CurrentPeriod() string {
	return PeriodKey(e.now(), e.period)
}

func (e *RewardEngine) gross(t posts.Totals) decimal.Decimal {
	likes := decimal.NewFromInt(t.Likes).Mul(e.rates.PerLike)
	comments := decimal.NewFromInt(t.Comments).Mul(e.rates.PerComment)
	return likes.Add(comments)
}

// accrue computes the unpaid amount from live counters, truncated to what
// the reward token can represent.
func (e *RewardEngine) accrue(ctx context.Context, db dbx.DBTX, accountID string) (decimal.Decimal, posts.Totals, error) {
	totals, err := e.repomanager.Posts(db).EngagementTotals(ctx, accountID)
	if err != nil {
		return decimal.Zero, posts.Totals{}, err
	}
	recorded, _, err := e.repomanager.Ledger(db).Sums(ctx, accountID)
	if err != nil {
		return decimal.Zero, posts.Totals{}, err
	}
	amount := e.gross(totals).Sub(recorded).Truncate(int32(e.chain.RewardDecimals()))
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount, totals, nil
}

// ComputeAccrued returns what a claim in the period containing asOf would
// pay. Counters carry no history, so the amount comes from their current
// values; it is zero when the ledger already holds an entry for that period.
func (e *RewardEngine) ComputeAccrued(ctx context.Context, accountID string, asOf time.Time) (decimal.Decimal, error) {
	_, err := e.repomanager.Ledger(e.db).Find(ctx, accountID, PeriodKey(asOf, e.period))
	if err == nil {
		return decimal.Zero, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return decimal.Zero, err
	}
	amount, _, err := e.accrue(ctx, e.db, accountID)
	return amount, err
}

// Claim pays the caller's accrued rewards for the current period.
func (e *RewardEngine) Claim(ctx context.Context, accountID string) (*ClaimResult, error) {
	res, err := e.settle(ctx, accountID)
	e.observe(outcomeOf(err))
	return res, err
}

// Distribute is the system-initiated form of Claim. Accounts with nothing to
// pay or an already settled period are reported as skipped without error.
func (e *RewardEngine) Distribute(ctx context.Context, accountID string) (*DistributionResult, error) {
	res, err := e.settle(ctx, accountID)
	outcome := outcomeOf(err)
	e.observe(outcome)

	out := &DistributionResult{AccountID: accountID, Outcome: outcome}
	switch outcome {
	case OutcomePaid:
		out.Amount = res.AmountPaid
		out.TxSignature = res.TxSignature
		return out, nil
	case OutcomeSkipped:
		out.Reason = err.Error()
		return out, nil
	case OutcomeUncertain:
		var ce *chain.ChainError
		if errors.As(err, &ce) {
			out.TxSignature = ce.Signature
		}
	}
	out.Reason = err.Error()
	return out, err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomePaid
	case errors.Is(err, common.ErrNothingToClaim),
		errors.Is(err, common.ErrAlreadyClaimed),
		errors.Is(err, common.ErrClaimInProgress):
		return OutcomeSkipped
	case isUncertain(err):
		return OutcomeUncertain
	default:
		return OutcomeFailed
	}
}

func (e *RewardEngine) observe(outcome string) {
	if e.observer != nil {
		e.observer.ObserveClaim(outcome)
	}
}

func (e *RewardEngine) settle(ctx context.Context, accountID string) (*ClaimResult, error) {
	unlock := e.locks.Lock(accountKey(accountID))
	defer unlock()

	account, err := e.repomanager.Accounts(e.db).GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !account.Role.CanClaimRewards() {
		return nil, common.ErrForbidden
	}
	if account.WalletAddress == "" {
		return nil, common.ErrNoWallet
	}

	period := e.CurrentPeriod()
	ledgerRepo := e.repomanager.Ledger(e.db)

	existing, err := ledgerRepo.Find(ctx, accountID, period)
	switch {
	case err == nil && existing.Status == models.LedgerConfirmed:
		return nil, common.ErrAlreadyClaimed
	case err == nil:
		return nil, common.ErrClaimInProgress
	case !errors.Is(err, common.ErrNotFound):
		return nil, err
	}

	amount, totals, err := e.accrue(ctx, e.db, accountID)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, common.ErrNothingToClaim
	}

	entry, err := ledgerRepo.Reserve(ctx, &models.LedgerEntry{
		AccountID: accountID,
		Period:    period,
		Amount:    amount,
		Likes:     totals.Likes,
		Comments:  totals.Comments,
	})
	if err != nil {
		if errors.Is(err, common.ErrDuplicate) {
			return nil, common.ErrClaimInProgress
		}
		return nil, err
	}

	log := e.logger.With("account_id", accountID, "period", period, "amount", amount.String())

	recordSignature := func(ctx context.Context, sig string) error {
		return ledgerRepo.SetSignature(ctx, entry.ID, sig)
	}

	sig, err := e.chain.RewardMint(ctx, account.WalletAddress, amount, recordSignature)
	if err != nil {
		cleanup := context.WithoutCancel(ctx)
		if isUncertain(err) {
			var ce *chain.ChainError
			errors.As(err, &ce)
			if merr := ledgerRepo.MarkUncertain(cleanup, entry.ID, ce.Signature); merr != nil {
				log.Error(ctx, "failed to mark reward entry uncertain", "entry_id", entry.ID, "error", merr)
			}
			log.Warn(ctx, "reward mint outcome unknown, left for reconciliation", "signature", ce.Signature, "error", err)
			return nil, err
		}
		if derr := ledgerRepo.Delete(cleanup, entry.ID); derr != nil {
			log.Error(ctx, "failed to release reward reservation", "entry_id", entry.ID, "error", derr)
		}
		log.Warn(ctx, "reward mint failed", "error", err)
		return nil, err
	}

	balance, err := e.commit(ctx, entry, sig)
	if err != nil {
		if merr := ledgerRepo.MarkUncertain(context.WithoutCancel(ctx), entry.ID, sig); merr != nil {
			log.Error(ctx, "failed to mark reward entry uncertain", "entry_id", entry.ID, "error", merr)
		}
		log.Error(ctx, "reward minted but not credited", "signature", sig, "error", err)
		return nil, fmt.Errorf("error crediting reward: %w", err)
	}

	log.Info(ctx, "reward paid", "signature", sig, "balance", balance.String())
	return &ClaimResult{AmountPaid: amount, TxSignature: sig, NewBalance: balance, Period: period}, nil
}

// commit confirms the ledger entry and credits the balance as one unit.
func (e *RewardEngine) commit(ctx context.Context, entry *models.LedgerEntry, sig string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := retryOnVersionConflict(func() error {
		return withTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := e.repomanager.Ledger(tx).MarkConfirmed(ctx, entry.ID, sig); err != nil {
				return err
			}
			accounts := e.repomanager.Accounts(tx)
			account, err := accounts.GetByID(ctx, entry.AccountID)
			if err != nil {
				return err
			}
			balance, _, err = accounts.AddBalance(ctx, entry.AccountID, models.AssetSKR, entry.Amount, account.Version)
			return err
		})
	})
	return balance, err
}

// Summary reports balances and engagement for the rewards screen.
func (e *RewardEngine) Summary(ctx context.Context, accountID string) (*RewardSummary, error) {
	account, err := e.repomanager.Accounts(e.db).GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	totals, err := e.repomanager.Posts(e.db).EngagementTotals(ctx, accountID)
	if err != nil {
		return nil, err
	}
	_, paid, err := e.repomanager.Ledger(e.db).Sums(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	pending, err := e.ComputeAccrued(ctx, accountID, now)
	if err != nil {
		return nil, err
	}

	period := PeriodKey(now, e.period)
	claimed := false
	entry, err := e.repomanager.Ledger(e.db).Find(ctx, accountID, period)
	switch {
	case err == nil:
		claimed = entry.Status == models.LedgerConfirmed
	case !errors.Is(err, common.ErrNotFound):
		return nil, err
	}

	return &RewardSummary{
		Balance:         account.Balances.SKR,
		Pending:         pending,
		PaidToDate:      paid,
		Posts:           totals.Posts,
		Likes:           totals.Likes,
		Comments:        totals.Comments,
		Period:          period,
		ClaimedInPeriod: claimed,
	}, nil
}

// History returns the account's reward ledger, newest period first.
func (e *RewardEngine) History(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error) {
	if _, err := e.repomanager.Accounts(e.db).GetByID(ctx, accountID); err != nil {
		return nil, err
	}
	return e.repomanager.Ledger(e.db).ListByAccount(ctx, accountID, historyLimit(limit))
}

// Reconcile resolves an uncertain or stale pending entry from the chain's view
// of its signature: confirmed credits the account, failed drops the entry so
// the period can be claimed again, unknown leaves it uncertain. An entry with
// no signature was never sent and is dropped.
func (e *RewardEngine) Reconcile(ctx context.Context, accountID, period string) (chain.TxStatus, error) {
	unlock := e.locks.Lock(accountKey(accountID))
	defer unlock()

	entry, err := e.repomanager.Ledger(e.db).Find(ctx, accountID, period)
	if err != nil {
		return chain.TxUnknown, err
	}
	return e.reconcileEntry(ctx, entry)
}

func (e *RewardEngine) reconcileEntry(ctx context.Context, entry *models.LedgerEntry) (chain.TxStatus, error) {
	switch entry.Status {
	case models.LedgerConfirmed:
		return chain.TxConfirmed, nil
	case models.LedgerPending:
		if !e.stale(entry) {
			return chain.TxUnknown, common.ErrClaimInProgress
		}
	}

	log := e.logger.With("account_id", entry.AccountID, "period", entry.Period, "signature", entry.TxSignature)

	if entry.TxSignature == "" {
		// never signed, so it cannot have landed
		if err := e.repomanager.Ledger(e.db).Delete(ctx, entry.ID); err != nil {
			return chain.TxUnknown, err
		}
		log.Info(ctx, "unsigned reward entry released")
		return chain.TxFailed, nil
	}

	status, err := e.chain.SignatureStatus(ctx, entry.TxSignature)
	if err != nil {
		return chain.TxUnknown, err
	}

	switch status {
	case chain.TxConfirmed:
		if _, err := e.commit(ctx, entry, entry.TxSignature); err != nil {
			return status, fmt.Errorf("error crediting reconciled reward: %w", err)
		}
		log.Info(ctx, "reconciled reward credited", "amount", entry.Amount.String())
	case chain.TxFailed:
		if err := e.repomanager.Ledger(e.db).Delete(ctx, entry.ID); err != nil {
			return status, err
		}
		log.Info(ctx, "reconciled reward failed on chain, entry released")
	default:
		if entry.Status == models.LedgerPending {
			if err := e.repomanager.Ledger(e.db).MarkUncertain(ctx, entry.ID, entry.TxSignature); err != nil {
				return status, err
			}
			log.Warn(ctx, "abandoned reward claim marked uncertain")
			return status, nil
		}
		log.Debug(ctx, "reward still unresolved")
	}
	return status, nil
}

// ReconcileAll runs Reconcile over every uncertain entry and every pending
// entry older than the stale threshold, and returns how many were resolved
// either way.
func (e *RewardEngine) ReconcileAll(ctx context.Context) (int, error) {
	cutoff := e.now().Add(-e.staleAfter)
	entries, err := e.repomanager.Ledger(e.db).ListUnsettled(ctx, cutoff, reconcileBatch)
	if err != nil {
		return 0, err
	}
	resolved := 0
	var errs error
	for _, entry := range entries {
		status, err := e.Reconcile(ctx, entry.AccountID, entry.Period)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("account %s period %s: %w", entry.AccountID, entry.Period, err))
			continue
		}
		if status != chain.TxUnknown {
			resolved++
		}
	}
	return resolved, errs
}
