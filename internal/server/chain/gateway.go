// Package chain is the only component that signs and submits Solana
// transactions. It holds the fee-payer and reward-mint-authority identities
// and exposes a small set of token operations.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/dmitrijs2005/walletkeeper/internal/logging"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sethvargo/go-retry"
)

// RPC is the subset of *rpc.Client the gateway uses.
type RPC interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error)
}

// Observer receives one sample per gateway call.
type Observer interface {
	ObserveChainCall(op, outcome string, d time.Duration)
}

// Config carries the signing identities as base58 strings. Empty values
// leave the corresponding operations unavailable (common.ErrNotConfigured).
type Config struct {
	FeePayerPrivateKey      string
	MintAuthorityPrivateKey string
	RewardMint              string
	RewardDecimals          uint8
	// Timeout bounds every call including confirmation polling.
	Timeout time.Duration
}

type Gateway struct {
	rpc      RPC
	logger   logging.Logger
	observer Observer

	feePayer       solana.PrivateKey
	mintAuthority  solana.PrivateKey
	rewardMint     solana.PublicKey
	rewardDecimals uint8
	timeout        time.Duration

	// pollInterval is the delay between signature status polls.
	pollInterval time.Duration
	// readBackoff builds the retry policy for read calls.
	readBackoff func() retry.Backoff
}

func defaultReadBackoff() retry.Backoff {
	b := retry.NewExponential(200 * time.Millisecond)
	b = retry.WithCappedDuration(2*time.Second, b)
	return retry.WithMaxRetries(4, b)
}

// NewGateway parses the configured identities. A malformed key is an error;
// an absent one is not.
func NewGateway(client RPC, cfg Config, logger logging.Logger, observer Observer) (*Gateway, error) {
	g := &Gateway{
		rpc:            client,
		logger:         logger,
		observer:       observer,
		rewardDecimals: cfg.RewardDecimals,
		timeout:        cfg.Timeout,
		pollInterval:   500 * time.Millisecond,
		readBackoff:    defaultReadBackoff,
	}
	if g.timeout <= 0 {
		g.timeout = 30 * time.Second
	}

	var err error
	if cfg.FeePayerPrivateKey != "" {
		if g.feePayer, err = solana.PrivateKeyFromBase58(cfg.FeePayerPrivateKey); err != nil {
			return nil, fmt.Errorf("%w: fee payer key: %v", common.ErrValidation, err)
		}
	}
	if cfg.MintAuthorityPrivateKey != "" {
		if g.mintAuthority, err = solana.PrivateKeyFromBase58(cfg.MintAuthorityPrivateKey); err != nil {
			return nil, fmt.Errorf("%w: mint authority key: %v", common.ErrValidation, err)
		}
	}
	if cfg.RewardMint != "" {
		if g.rewardMint, err = solana.PublicKeyFromBase58(cfg.RewardMint); err != nil {
			return nil, fmt.Errorf("%w: reward mint: %v", common.ErrValidation, err)
		}
	}

	return g, nil
}

// FeePayer returns the fee payer address, or "" when not configured.
func (g *Gateway) FeePayer() string {
	if g.feePayer == nil {
		return ""
	}
	return g.feePayer.PublicKey().String()
}

// RewardDecimals is the decimal precision of the reward token.
func (g *Gateway) RewardDecimals() uint8 {
	return g.rewardDecimals
}

// RewardMintAddress returns the reward token mint address, or "" when not
// configured.
func (g *Gateway) RewardMintAddress() string {
	if g.rewardMint.IsZero() {
		return ""
	}
	return g.rewardMint.String()
}

func (g *Gateway) requireFeePayer() error {
	if g.feePayer == nil {
		return fmt.Errorf("%w: fee payer key", common.ErrNotConfigured)
	}
	return nil
}

func (g *Gateway) requireRewardMinting() error {
	if err := g.requireFeePayer(); err != nil {
		return err
	}
	if g.mintAuthority == nil {
		return fmt.Errorf("%w: reward mint authority key", common.ErrNotConfigured)
	}
	if g.rewardMint.IsZero() {
		return fmt.Errorf("%w: reward token mint", common.ErrNotConfigured)
	}
	return nil
}

func (g *Gateway) observe(op string, start time.Time, err error) {
	if g.observer == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var ce *ChainError
		if errors.As(err, &ce) && ce.Uncertain() {
			outcome = "uncertain"
		}
	}
	g.observer.ObserveChainCall(op, outcome, time.Since(start))
}

// read runs fn with bounded exponential backoff. fn marks transient failures
// with retry.RetryableError.
func (g *Gateway) read(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, g.readBackoff(), fn)
}
