package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

// mintAccountSize is the byte size of an SPL token mint account.
const mintAccountSize = 82

func parseAddress(what, address string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: invalid %s address", common.ErrValidation, what)
	}
	return pk, nil
}

// accountExists reports whether address holds an account.
func (g *Gateway) accountExists(ctx context.Context, address solana.PublicKey) (bool, error) {
	var exists bool
	err := g.read(ctx, func(ctx context.Context) error {
		_, err := g.rpc.GetAccountInfo(ctx, address)
		switch {
		case err == nil:
			exists = true
			return nil
		case errors.Is(err, rpc.ErrNotFound):
			exists = false
			return nil
		}
		return retry.RetryableError(err)
	})
	return exists, err
}

// ensureTokenAccount derives owner's associated token account for mint and
// returns the instruction that creates it when it does not exist yet.
func (g *Gateway) ensureTokenAccount(ctx context.Context, owner, mint solana.PublicKey) (solana.PublicKey, solana.Instruction, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("derive token account: %w", err)
	}

	exists, err := g.accountExists(ctx, ata)
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("get token account: %w", err)
	}
	if exists {
		return ata, nil, nil
	}

	create, err := associatedtokenaccount.NewCreateInstruction(g.feePayer.PublicKey(), owner, mint).ValidateAndBuild()
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("build create token account: %w", err)
	}
	return ata, create, nil
}

// CreateFungibleToken creates a new mint whose mint and freeze authority is
// the fee payer. NFTs are tokens with 0 decimals and a supply of one.
func (g *Gateway) CreateFungibleToken(ctx context.Context, decimals uint8) (mint string, sig string, err error) {
	const op = "create_mint"
	if err := g.requireFeePayer(); err != nil {
		return "", "", err
	}

	mintKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return "", "", &ChainError{Op: op, Broadcast: BroadcastNone, Err: fmt.Errorf("generate mint key: %w", err)}
	}

	var rent uint64
	err = g.read(ctx, func(ctx context.Context) error {
		r, err := g.rpc.GetMinimumBalanceForRentExemption(ctx, mintAccountSize, rpc.CommitmentConfirmed)
		if err != nil {
			return retry.RetryableError(err)
		}
		rent = r
		return nil
	})
	if err != nil {
		return "", "", &ChainError{Op: op, Broadcast: BroadcastNone, Err: fmt.Errorf("get rent exemption: %w", err)}
	}

	payer := g.feePayer.PublicKey()
	createAccount, err := system.NewCreateAccountInstruction(rent, mintAccountSize, solana.TokenProgramID, payer, mintKey.PublicKey()).ValidateAndBuild()
	if err != nil {
		return "", "", &ChainError{Op: op, Broadcast: BroadcastNone, Err: err}
	}
	initMint, err := token.NewInitializeMintInstruction(decimals, payer, payer, mintKey.PublicKey(), solana.SysVarRentPubkey).ValidateAndBuild()
	if err != nil {
		return "", "", &ChainError{Op: op, Broadcast: BroadcastNone, Err: err}
	}

	sig, err = g.submit(ctx, op, []solana.Instruction{createAccount, initMint}, nil, mintKey)
	if err != nil {
		return "", "", err
	}
	return mintKey.PublicKey().String(), sig, nil
}

func (g *Gateway) mintTo(ctx context.Context, op string, mint, destination solana.PublicKey, amount uint64, authority solana.PrivateKey, beforeSend BeforeSend) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ata, create, err := g.ensureTokenAccount(ctx, destination, mint)
	if err != nil {
		return "", &ChainError{Op: op, Broadcast: BroadcastNone, Err: err}
	}

	mintTo, err := token.NewMintToInstruction(amount, mint, ata, authority.PublicKey(), nil).ValidateAndBuild()
	if err != nil {
		return "", &ChainError{Op: op, Broadcast: BroadcastNone, Err: err}
	}

	instrs := []solana.Instruction{}
	if create != nil {
		instrs = append(instrs, create)
	}
	instrs = append(instrs, mintTo)

	var signers []solana.PrivateKey
	if !authority.PublicKey().Equals(g.feePayer.PublicKey()) {
		signers = append(signers, authority)
	}
	return g.submit(ctx, op, instrs, beforeSend, signers...)
}

// MintTo mints amount base units of a platform mint (fee payer is the mint
// authority) to destination's associated token account, creating it first
// when missing.
func (g *Gateway) MintTo(ctx context.Context, mint, destination string, amount uint64) (string, error) {
	if err := g.requireFeePayer(); err != nil {
		return "", err
	}
	if amount == 0 {
		return "", fmt.Errorf("%w: amount must be positive", common.ErrValidation)
	}
	mintPK, err := parseAddress("mint", mint)
	if err != nil {
		return "", err
	}
	destPK, err := parseAddress("destination", destination)
	if err != nil {
		return "", err
	}
	return g.mintTo(ctx, "mint_to", mintPK, destPK, amount, g.feePayer, nil)
}

// RewardMint mints amount reward tokens to destination, signed by the reward
// mint authority. It only ever mints the configured reward token. beforeSend
// lets the caller record the signature before the mint can land.
func (g *Gateway) RewardMint(ctx context.Context, destination string, amount decimal.Decimal, beforeSend BeforeSend) (string, error) {
	if err := g.requireRewardMinting(); err != nil {
		return "", err
	}
	units, err := ToBaseUnits(amount, g.rewardDecimals)
	if err != nil {
		return "", err
	}
	destPK, err := parseAddress("destination", destination)
	if err != nil {
		return "", err
	}
	return g.mintTo(ctx, "reward_mint", g.rewardMint, destPK, units, g.mintAuthority, beforeSend)
}

// Transfer moves amount base units of mint from the wallet at from to the
// wallet at to. owner is from's private key; it signs as token account
// authority while the fee payer pays. The gateway does not keep owner.
func (g *Gateway) Transfer(ctx context.Context, mint, from, to string, amount uint64, owner []byte) (string, error) {
	const op = "transfer"
	if err := g.requireFeePayer(); err != nil {
		return "", err
	}
	if amount == 0 {
		return "", fmt.Errorf("%w: amount must be positive", common.ErrValidation)
	}
	mintPK, err := parseAddress("mint", mint)
	if err != nil {
		return "", err
	}
	fromPK, err := parseAddress("source", from)
	if err != nil {
		return "", err
	}
	toPK, err := parseAddress("destination", to)
	if err != nil {
		return "", err
	}
	ownerKey := solana.PrivateKey(owner)
	if len(owner) != 64 || !ownerKey.PublicKey().Equals(fromPK) {
		return "", fmt.Errorf("%w: owner key does not match source wallet", common.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	srcATA, _, err := solana.FindAssociatedTokenAddress(fromPK, mintPK)
	if err != nil {
		return "", &ChainError{Op: op, Broadcast: BroadcastNone, Err: err}
	}
	exists, err := g.accountExists(ctx, srcATA)
	if err != nil {
		return "", &ChainError{Op: op, Broadcast: BroadcastNone, Err: fmt.Errorf("get source token account: %w", err)}
	}
	if !exists {
		return "", fmt.Errorf("%w: source wallet holds no tokens of this mint", common.ErrInsufficientBalance)
	}

	dstATA, create, err := g.ensureTokenAccount(ctx, toPK, mintPK)
	if err != nil {
		return "", &ChainError{Op: op, Broadcast: BroadcastNone, Err: err}
	}

	transfer, err := token.NewTransferInstruction(amount, srcATA, dstATA, fromPK, nil).ValidateAndBuild()
	if err != nil {
		return "", &ChainError{Op: op, Broadcast: BroadcastNone, Err: err}
	}

	instrs := []solana.Instruction{}
	if create != nil {
		instrs = append(instrs, create)
	}
	instrs = append(instrs, transfer)

	return g.submit(ctx, op, instrs, nil, ownerKey)
}

// NativeBalance returns the SOL balance of address.
func (g *Gateway) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	pk, err := parseAddress("wallet", address)
	if err != nil {
		return decimal.Zero, err
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var lamports uint64
	err = g.read(ctx, func(ctx context.Context) error {
		res, err := g.rpc.GetBalance(ctx, pk, rpc.CommitmentConfirmed)
		if err != nil {
			return retry.RetryableError(err)
		}
		if res == nil {
			return retry.RetryableError(errors.New("empty balance response"))
		}
		lamports = res.Value
		return nil
	})
	g.observe("balance", start, err)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return FromBaseUnits(lamports, 9), nil
}
