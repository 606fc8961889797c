package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/dmitrijs2005/walletkeeper/internal/server/chain"
	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPeriodKey(t *testing.T) {
	at := time.Date(2026, 10, 15, 13, 47, 5, 0, time.FixedZone("X", 3*3600))

	tests := []struct {
		period time.Duration
		want   string
	}{
		{24 * time.Hour, "2026-10-15"},
		{time.Hour, "2026-10-15T10"},
		{15 * time.Minute, "2026-10-15T10:45Z"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PeriodKey(at, tt.period), tt.period.String())
	}
}

func TestClaim_TenLikesFourComments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.addAccount(t, models.RoleCreator, "0")
	env.addPost(acc.ID, 6, 1)
	env.addPost(acc.ID, 4, 3)

	accrued, err := env.rewards.ComputeAccrued(ctx, acc.ID, env.now)
	require.NoError(t, err)
	assert.True(t, dec("3").Equal(accrued), accrued.String())

	res, err := env.rewards.Claim(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, dec("3").Equal(res.AmountPaid))
	assert.True(t, dec("3").Equal(res.NewBalance))
	assert.Equal(t, "2026-10-15", res.Period)
	assert.NotEmpty(t, res.TxSignature)

	_, err = env.rewards.Claim(ctx, acc.ID)
	assert.ErrorIs(t, err, common.ErrAlreadyClaimed)
	assert.ErrorIs(t, err, common.ErrConflict)

	assert.Equal(t, 1, env.chain.rewardCount())
	assert.True(t, dec("3").Equal(env.store.account(acc.ID).Balances.SKR))

	entries := env.store.ledgerEntries(acc.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LedgerConfirmed, entries[0].Status)
	assert.Equal(t, res.TxSignature, entries[0].TxSignature)
	assert.Equal(t, int64(10), entries[0].Likes)
	assert.Equal(t, int64(4), entries[0].Comments)
}

func TestClaim_Preconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	standard := env.addAccount(t, models.RoleStandard, "0")
	env.addPost(standard.ID, 10, 0)
	_, err := env.rewards.Claim(ctx, standard.ID)
	assert.ErrorIs(t, err, common.ErrForbidden)

	noWallet := env.addAccount(t, models.RoleCreator, "0")
	env.store.mu.Lock()
	a := env.store.accounts[noWallet.ID]
	a.WalletAddress = ""
	env.store.accounts[noWallet.ID] = a
	env.store.mu.Unlock()
	_, err = env.rewards.Claim(ctx, noWallet.ID)
	assert.ErrorIs(t, err, common.ErrNoWallet)

	idle := env.addAccount(t, models.RoleAdmin, "0")
	_, err = env.rewards.Claim(ctx, idle.ID)
	assert.ErrorIs(t, err, common.ErrNothingToClaim)

	_, err = env.rewards.Claim(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.Zero(t, env.chain.rewardCount())
}

func TestClaim_RejectedMintReleasesPeriod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.addAccount(t, models.RoleCreator, "1")
	env.addPost(acc.ID, 10, 0)

	env.chain.rewardErr = rejectedErr()
	_, err := env.rewards.Claim(ctx, acc.ID)
	var ce *chain.ChainError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, chain.BroadcastNone, ce.Broadcast)

	assert.Empty(t, env.store.ledgerEntries(acc.ID))
	assert.True(t, dec("1").Equal(env.store.account(acc.ID).Balances.SKR))

	env.chain.rewardErr = nil
	res, err := env.rewards.Claim(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, dec("2").Equal(res.NewBalance))
}

func TestClaim_UncertainMintThenReconcile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.addAccount(t, models.RoleCreator, "0")
	env.addPost(acc.ID, 10, 4)

	env.chain.rewardErr = uncertainErr("sig-lost")
	_, err := env.rewards.Claim(ctx, acc.ID)
	require.Error(t, err)
	assert.True(t, isUncertain(err))

	entries := env.store.ledgerEntries(acc.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LedgerUncertain, entries[0].Status)
	assert.Equal(t, "sig-lost", entries[0].TxSignature)
	assert.True(t, env.store.account(acc.ID).Balances.SKR.IsZero())

	env.chain.rewardErr = nil
	_, err = env.rewards.Claim(ctx, acc.ID)
	assert.ErrorIs(t, err, common.ErrClaimInProgress)
	assert.Zero(t, env.chain.rewardCount(), "uncertain period is never retried automatically")

	status, err := env.rewards.Reconcile(ctx, acc.ID, "2026-10-15")
	require.NoError(t, err)
	assert.Equal(t, chain.TxUnknown, status)
	assert.Equal(t, models.LedgerUncertain, env.store.ledgerEntries(acc.ID)[0].Status)

	env.chain.statuses["sig-lost"] = chain.TxConfirmed
	status, err = env.rewards.Reconcile(ctx, acc.ID, "2026-10-15")
	require.NoError(t, err)
	assert.Equal(t, chain.TxConfirmed, status)

	assert.True(t, dec("3").Equal(env.store.account(acc.ID).Balances.SKR))
	assert.Equal(t, models.LedgerConfirmed, env.store.ledgerEntries(acc.ID)[0].Status)

	_, err = env.rewards.Claim(ctx, acc.ID)
	assert.ErrorIs(t, err, common.ErrAlreadyClaimed)
}

func TestReconcile_FailedReleasesPeriod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.addAccount(t, models.RoleCreator, "0")
	env.addPost(acc.ID, 10, 0)

	env.chain.rewardErr = uncertainErr("sig-dropped")
	_, err := env.rewards.Claim(ctx, acc.ID)
	require.Error(t, err)

	env.chain.statuses["sig-dropped"] = chain.TxFailed
	resolved, err := env.rewards.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Empty(t, env.store.ledgerEntries(acc.ID))

	env.chain.rewardErr = nil
	res, err := env.rewards.Claim(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, dec("1").Equal(res.AmountPaid))
}

// seedPending stores a pending entry as if a claim reserved it and the
// process died before settling.
func (e *testEnv) seedPending(accountID, period, amount, sig string, createdAt time.Time) models.LedgerEntry {
	entry := models.LedgerEntry{
		ID:          "l-" + period,
		AccountID:   accountID,
		Period:      period,
		Amount:      dec(amount),
		Status:      models.LedgerPending,
		TxSignature: sig,
		CreatedAt:   createdAt,
	}
	e.store.mu.Lock()
	e.store.ledger[entry.ID] = entry
	e.store.mu.Unlock()
	return entry
}

func TestClaim_RecordsSignatureBeforeSend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.addAccount(t, models.RoleCreator, "0")
	env.addPost(acc.ID, 10, 0)

	env.chain.rewardErr = rejectedErr()
	_, err := env.rewards.Claim(ctx, acc.ID)
	require.Error(t, err)
	assert.Empty(t, env.store.ledgerEntries(acc.ID), "rejected mint releases the reservation")

	env.chain.rewardErr = uncertainErr("sig-inflight")
	_, err = env.rewards.Claim(ctx, acc.ID)
	require.Error(t, err)
	entries := env.store.ledgerEntries(acc.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, "sig-inflight", entries[0].TxSignature)
}

func TestReconcileAll_AbandonedPendingWithoutSignatureIsReleased(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.addAccount(t, models.RoleCreator, "0")
	env.addPost(acc.ID, 30, 0)
	env.seedPending(acc.ID, "2026-10-14", "3.0", "", env.now.Add(-24*time.Hour))

	_, err := env.rewards.Claim(ctx, acc.ID)
	assert.ErrorIs(t, err, common.ErrNothingToClaim, "pending amount is still held back")

	resolved, err := env.rewards.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Empty(t, env.store.ledgerEntries(acc.ID))

	res, err := env.rewards.Claim(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, dec("3").Equal(res.AmountPaid))
	assert.Equal(t, 1, env.chain.rewardCount())
}

func TestReconcileAll_AbandonedPendingThatLandedIsCredited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.addAccount(t, models.RoleCreator, "0")
	env.addPost(acc.ID, 30, 0)
	env.seedPending(acc.ID, "2026-10-14", "3.0", "sig-landed", env.now.Add(-time.Hour))
	env.chain.statuses["sig-landed"] = chain.TxConfirmed

	resolved, err := env.rewards.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	entries := env.store.ledgerEntries(acc.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LedgerConfirmed, entries[0].Status)
	assert.True(t, dec("3").Equal(env.store.account(acc.ID).Balances.SKR))
	assert.Zero(t, env.chain.rewardCount(), "nothing is minted twice")
}

func TestReconcile_PendingEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.addAccount(t, models.RoleCreator, "0")
	env.seedPending(acc.ID, "2026-10-15", "1", "sig-fresh", env.now.Add(-time.Second))
	env.seedPending(acc.ID, "2026-10-14", "1", "sig-unknown", env.now.Add(-time.Hour))

	_, err := env.rewards.Reconcile(ctx, acc.ID, "2026-10-15")
	assert.ErrorIs(t, err, common.ErrClaimInProgress, "a recent reservation may still be minting")

	resolved, err := env.rewards.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, resolved)

	stale, err := env.rewards.Reconcile(ctx, acc.ID, "2026-10-14")
	require.NoError(t, err)
	assert.Equal(t, chain.TxUnknown, stale)
	for _, e := range env.store.ledgerEntries(acc.ID) {
		if e.Period == "2026-10-14" {
			assert.Equal(t, models.LedgerUncertain, e.Status)
			assert.Equal(t, "sig-unknown", e.TxSignature)
		} else {
			assert.Equal(t, models.LedgerPending, e.Status)
		}
	}
}

func TestHistory_NewestPeriodFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.addAccount(t, models.RoleCreator, "0")
	env.addPost(acc.ID, 10, 0)

	_, err := env.rewards.Claim(ctx, acc.ID)
	require.NoError(t, err)
	env.seedPending(acc.ID, "2026-10-13", "0.5", "", env.now.Add(-48*time.Hour))

	got, err := env.rewards.History(ctx, acc.ID, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2026-10-15", got[0].Period)
	assert.Equal(t, models.LedgerConfirmed, got[0].Status)
	assert.Equal(t, "2026-10-13", got[1].Period)

	_, err = env.rewards.History(ctx, "missing", 10)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestClaim_IncrementalAcrossPeriods(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.addAccount(t, models.RoleCreator, "0")
	post := env.addPost(acc.ID, 10, 4)

	_, err := env.rewards.Claim(ctx, acc.ID)
	require.NoError(t, err)

	env.now = env.now.Add(24 * time.Hour)
	_, err = env.rewards.Claim(ctx, acc.ID)
	assert.ErrorIs(t, err, common.ErrNothingToClaim, "same likes are not paid twice")

	env.store.mu.Lock()
	p := env.store.posts[post]
	p.LikeCount += 5
	env.store.posts[post] = p
	env.store.mu.Unlock()

	res, err := env.rewards.Claim(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, dec("0.5").Equal(res.AmountPaid))
	assert.True(t, dec("3.5").Equal(res.NewBalance))
}

func TestClaim_ConcurrentCallsPayOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.addAccount(t, models.RoleCreator, "0")
	env.addPost(acc.ID, 10, 4)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.rewards.Claim(ctx, acc.ID)
		}(i)
	}
	wg.Wait()

	paid := 0
	for _, err := range errs {
		if err == nil {
			paid++
			continue
		}
		assert.ErrorIs(t, err, common.ErrAlreadyClaimed)
	}
	assert.Equal(t, 1, paid)
	assert.Equal(t, 1, env.chain.rewardCount())
	assert.True(t, dec("3").Equal(env.store.account(acc.ID).Balances.SKR))
}

func TestClaim_RetriesVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.addAccount(t, models.RoleCreator, "0")
	env.addPost(acc.ID, 10, 0)

	env.store.versionConflicts = commitAttempts - 1
	res, err := env.rewards.Claim(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, dec("1").Equal(res.NewBalance))
	assert.Equal(t, models.LedgerConfirmed, env.store.ledgerEntries(acc.ID)[0].Status)
}

func TestClaim_CommitFailureLeavesUncertainEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.addAccount(t, models.RoleCreator, "0")
	env.addPost(acc.ID, 10, 0)

	env.store.versionConflicts = commitAttempts
	_, err := env.rewards.Claim(ctx, acc.ID)
	assert.ErrorIs(t, err, common.ErrVersionConflict)

	entries := env.store.ledgerEntries(acc.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.LedgerUncertain, entries[0].Status)
	assert.NotEmpty(t, entries[0].TxSignature, "minted signature kept for reconciliation")
	assert.True(t, env.store.account(acc.ID).Balances.SKR.IsZero())
}

func TestClaim_TruncatesToTokenPrecision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.rewards.rates.PerLike = dec("0.0000000001")
	acc := env.addAccount(t, models.RoleCreator, "0")
	env.addPost(acc.ID, 15, 0)

	res, err := env.rewards.Claim(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, dec("0.000000001").Equal(res.AmountPaid), res.AmountPaid.String())
}

func TestDistribute_Outcomes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	paid := env.addAccount(t, models.RoleCreator, "0")
	env.addPost(paid.ID, 10, 0)
	idle := env.addAccount(t, models.RoleCreator, "0")
	broken := env.addAccount(t, models.RoleCreator, "0")
	env.addPost(broken.ID, 1, 1)
	env.chain.rewardErrTo[broken.WalletAddress] = rejectedErr()

	res, err := env.rewards.Distribute(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, res.Outcome)
	assert.True(t, dec("1").Equal(res.Amount))

	res, err = env.rewards.Distribute(ctx, idle.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)

	res, err = env.rewards.Distribute(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)

	res, err = env.rewards.Distribute(ctx, broken.ID)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.NotEmpty(t, res.Reason)

	assert.Equal(t, map[string]int{OutcomePaid: 1, OutcomeSkipped: 2, OutcomeFailed: 1}, env.observer.outcomes)
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.addAccount(t, models.RoleCreator, "2")
	env.addPost(acc.ID, 10, 4)
	env.addPost(acc.ID, 0, 0)

	s, err := env.rewards.Summary(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Posts)
	assert.Equal(t, int64(10), s.Likes)
	assert.Equal(t, int64(4), s.Comments)
	assert.True(t, dec("3").Equal(s.Pending))
	assert.True(t, s.PaidToDate.IsZero())
	assert.False(t, s.ClaimedInPeriod)

	_, err = env.rewards.Claim(ctx, acc.ID)
	require.NoError(t, err)

	s, err = env.rewards.Summary(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, dec("5").Equal(s.Balance))
	assert.True(t, s.Pending.IsZero())
	assert.True(t, dec("3").Equal(s.PaidToDate))
	assert.True(t, s.ClaimedInPeriod)
	assert.Equal(t, "2026-10-15", s.Period)
}

func TestClaim_ConservationProperty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rapid.Check(t, func(rt *rapid.T) {
		likes := rapid.Int64Range(0, 10_000).Draw(rt, "likes")
		comments := rapid.Int64Range(0, 10_000).Draw(rt, "comments")
		start := rapid.Int64Range(0, 1_000_000).Draw(rt, "start")

		acc := env.addAccount(rt, models.RoleCreator, decimal.NewFromInt(start).String())
		env.addPost(acc.ID, likes, comments)

		accrued, err := env.rewards.ComputeAccrued(ctx, acc.ID, env.now)
		if err != nil {
			rt.Fatalf("accrue: %v", err)
		}

		res, err := env.rewards.Claim(ctx, acc.ID)
		if accrued.IsZero() {
			if !errors.Is(err, common.ErrNothingToClaim) {
				rt.Fatalf("expected nothing to claim, got %v", err)
			}
			return
		}
		if err != nil {
			rt.Fatalf("claim: %v", err)
		}
		if !res.AmountPaid.Equal(accrued) {
			rt.Fatalf("paid %s, accrued %s", res.AmountPaid, accrued)
		}
		if !res.NewBalance.Equal(decimal.NewFromInt(start).Add(res.AmountPaid)) {
			rt.Fatalf("balance %s after paying %s from %d", res.NewBalance, res.AmountPaid, start)
		}
	})
}
