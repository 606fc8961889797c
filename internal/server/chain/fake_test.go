package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/walletkeeper/internal/logging"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/require"
)

// fakeRPC is an in-memory RPC. Accounts listed in existing are reported as
// present; everything else is rpc.ErrNotFound.
type fakeRPC struct {
	mu sync.Mutex

	existing       map[solana.PublicKey]bool
	balance        uint64
	blockhashErrs  int
	sendErr        error
	statusErr      interface{}
	neverConfirm   bool
	sent           []*solana.Transaction
	statusRequests int
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{existing: map[solana.PublicKey]bool{}}
}

func (f *fakeRPC) GetLatestBlockhash(ctx context.Context, _ rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blockhashErrs > 0 {
		f.blockhashErrs--
		return nil, errors.New("node unavailable")
	}
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{1, 2, 3}}}, nil
}

func (f *fakeRPC) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	return tx.Signatures[0], nil
}

func (f *fakeRPC) GetSignatureStatuses(ctx context.Context, _ bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusRequests++
	if f.neverConfirm {
		return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{{
		Err:                f.statusErr,
		ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
	}}}, nil
}

func (f *fakeRPC) GetBalance(ctx context.Context, _ solana.PublicKey, _ rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &rpc.GetBalanceResult{Value: f.balance}, nil
}

func (f *fakeRPC) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existing[account] {
		return &rpc.GetAccountInfoResult{Value: &rpc.Account{}}, nil
	}
	return nil, rpc.ErrNotFound
}

func (f *fakeRPC) GetMinimumBalanceForRentExemption(ctx context.Context, _ uint64, _ rpc.CommitmentType) (uint64, error) {
	return 1461600, nil
}

func (f *fakeRPC) lastSent(t *testing.T) *solana.Transaction {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no transaction was sent")
	return f.sent[len(f.sent)-1]
}

type identities struct {
	feePayer      solana.PrivateKey
	mintAuthority solana.PrivateKey
	rewardMint    solana.PublicKey
}

func newIdentities(t *testing.T) identities {
	t.Helper()
	fee, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	auth, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	mint, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return identities{feePayer: fee, mintAuthority: auth, rewardMint: mint.PublicKey()}
}

func newTestGateway(t *testing.T, f *fakeRPC) (*Gateway, identities) {
	t.Helper()
	ids := newIdentities(t)
	g, err := NewGateway(f, Config{
		FeePayerPrivateKey:      ids.feePayer.String(),
		MintAuthorityPrivateKey: ids.mintAuthority.String(),
		RewardMint:              ids.rewardMint.String(),
		RewardDecimals:          9,
		Timeout:                 200 * time.Millisecond,
	}, logging.NewDiscardLogger(), nil)
	require.NoError(t, err)
	g.pollInterval = 5 * time.Millisecond
	g.readBackoff = func() retry.Backoff {
		return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
	}
	return g, ids
}
