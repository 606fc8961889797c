package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/sethvargo/go-retry"
)

// TxStatus is the observed on-chain state of a signature.
type TxStatus int

const (
	// TxUnknown means the network has no record of the signature (yet).
	TxUnknown TxStatus = iota
	TxConfirmed
	TxFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxConfirmed:
		return "confirmed"
	case TxFailed:
		return "failed"
	}
	return "unknown"
}

func (g *Gateway) latestBlockhash(ctx context.Context) (solana.Hash, error) {
	var hash solana.Hash
	err := g.read(ctx, func(ctx context.Context) error {
		res, err := g.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return retry.RetryableError(err)
		}
		if res == nil || res.Value == nil {
			return retry.RetryableError(errors.New("empty blockhash response"))
		}
		hash = res.Value.Blockhash
		return nil
	})
	return hash, err
}

func signerFunc(signers []solana.PrivateKey) func(solana.PublicKey) *solana.PrivateKey {
	keys := make(map[solana.PublicKey]solana.PrivateKey, len(signers))
	for _, k := range signers {
		keys[k.PublicKey()] = k
	}
	return func(pk solana.PublicKey) *solana.PrivateKey {
		if k, ok := keys[pk]; ok {
			return &k
		}
		return nil
	}
}

// BeforeSend receives the signature of a signed transaction before it is
// broadcast. An error aborts the write with nothing sent.
type BeforeSend func(ctx context.Context, signature string) error

// submit builds, signs, sends and confirms one transaction paid by the fee
// payer. beforeSend, when set, runs between signing and sending. Every
// failure is a *ChainError.
func (g *Gateway) submit(ctx context.Context, op string, instrs []solana.Instruction, beforeSend BeforeSend, signers ...solana.PrivateKey) (sig string, err error) {
	start := time.Now()
	defer func() { g.observe(op, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	fail := func(b Broadcast, sig string, err error) (string, error) {
		return "", &ChainError{Op: op, Broadcast: b, Signature: sig, Err: err}
	}

	blockhash, err := g.latestBlockhash(ctx)
	if err != nil {
		return fail(BroadcastNone, "", fmt.Errorf("get blockhash: %w", err))
	}

	tx, err := solana.NewTransaction(instrs, blockhash, solana.TransactionPayer(g.feePayer.PublicKey()))
	if err != nil {
		return fail(BroadcastNone, "", fmt.Errorf("build transaction: %w", err))
	}

	all := append([]solana.PrivateKey{g.feePayer}, signers...)
	if _, err := tx.Sign(signerFunc(all)); err != nil {
		return fail(BroadcastNone, "", fmt.Errorf("sign transaction: %w", err))
	}
	signature := tx.Signatures[0]

	if beforeSend != nil {
		if err := beforeSend(ctx, signature.String()); err != nil {
			return fail(BroadcastNone, "", fmt.Errorf("before send: %w", err))
		}
	}

	_, err = g.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			// The node answered: preflight or validation rejected the transaction.
			return fail(BroadcastNone, signature.String(), fmt.Errorf("send transaction: %w", err))
		}
		g.logger.Warn(ctx, "transaction send outcome unknown", "op", op, "signature", signature.String(), "error", err)
		return fail(BroadcastUncertain, signature.String(), fmt.Errorf("send transaction: %w", err))
	}

	status, err := g.awaitConfirmation(ctx, signature)
	switch {
	case err != nil:
		g.logger.Warn(ctx, "transaction confirmation timed out", "op", op, "signature", signature.String(), "error", err)
		return fail(BroadcastUncertain, signature.String(), fmt.Errorf("await confirmation: %w", err))
	case status == TxFailed:
		return fail(BroadcastNone, signature.String(), errors.New("transaction failed on chain"))
	}

	g.logger.Info(ctx, "transaction confirmed", "op", op, "signature", signature.String())
	return signature.String(), nil
}

// awaitConfirmation polls until the signature is confirmed or failed, or ctx
// ends. Poll errors are ignored; only the deadline ends the wait.
func (g *Gateway) awaitConfirmation(ctx context.Context, sig solana.Signature) (TxStatus, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		status, err := g.signatureStatus(ctx, sig, false)
		if err == nil && status != TxUnknown {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return TxUnknown, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (g *Gateway) signatureStatus(ctx context.Context, sig solana.Signature, history bool) (TxStatus, error) {
	res, err := g.rpc.GetSignatureStatuses(ctx, history, sig)
	if err != nil {
		return TxUnknown, err
	}
	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return TxUnknown, nil
	}
	st := res.Value[0]
	if st.Err != nil {
		return TxFailed, nil
	}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return TxConfirmed, nil
	}
	return TxUnknown, nil
}

// SignatureStatus looks a signature up in the full transaction history. It
// is used to reconcile writes that ended with BroadcastUncertain.
func (g *Gateway) SignatureStatus(ctx context.Context, signature string) (TxStatus, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return TxUnknown, fmt.Errorf("parse signature: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var status TxStatus
	err = g.read(ctx, func(ctx context.Context) error {
		s, err := g.signatureStatus(ctx, sig, true)
		if err != nil {
			return retry.RetryableError(err)
		}
		status = s
		return nil
	})
	return status, err
}
