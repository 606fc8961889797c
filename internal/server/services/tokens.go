package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/dmitrijs2005/walletkeeper/internal/dbx"
	"github.com/dmitrijs2005/walletkeeper/internal/keyvault"
	"github.com/dmitrijs2005/walletkeeper/internal/logging"
	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/repomanager"
	"github.com/shopspring/decimal"
)

const (
	defaultNFTSymbol = "POST"
	maxNFTNameLength = 32 // bytes
	maxSymbolLength  = 10
)

// TokenService mints posts as NFTs and moves them between custodial wallets.
type TokenService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	vault       *keyvault.Vault
	chain       Chain
	locks       *KeyedMutex
	logger      logging.Logger
}

func NewTokenService(db *sql.DB, m repomanager.RepositoryManager, vault *keyvault.Vault, chain Chain,
	locks *KeyedMutex, logger logging.Logger) *TokenService {
	return &TokenService{db: db, repomanager: m, vault: vault, chain: chain, locks: locks, logger: logger}
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := 0
	for n < len(s) {
		_, size := utf8.DecodeRuneInString(s[n:])
		if n+size > limit {
			break
		}
		n += size
	}
	return s[:n]
}

func nftMetadata(postID, name, symbol string) (string, string, error) {
	name = strings.TrimSpace(name)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if name == "" {
		name = "Post " + postID
	}
	if symbol == "" {
		symbol = defaultNFTSymbol
	}
	name = truncateUTF8(name, maxNFTNameLength)
	if utf8.RuneCountInString(symbol) > maxSymbolLength {
		return "", "", fmt.Errorf("%w: symbol longer than %d characters", common.ErrValidation, maxSymbolLength)
	}
	return name, symbol, nil
}

// MintPostNFT creates a 0-decimal mint for the post and mints its single
// unit to the owner's wallet.
func (s *TokenService) MintPostNFT(ctx context.Context, accountID, postID, name, symbol string) (*models.Token, error) {
	name, symbol, err := nftMetadata(postID, name, symbol)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock("post:" + postID)
	defer unlock()

	post, err := s.repomanager.Posts(s.db).Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.OwnerID != accountID {
		return nil, common.ErrForbidden
	}
	if post.Tokenized {
		return nil, fmt.Errorf("%w: post already tokenized", common.ErrConflict)
	}

	owner, err := s.repomanager.Accounts(s.db).GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if owner.WalletAddress == "" {
		return nil, common.ErrNoWallet
	}

	mint, _, err := s.chain.CreateFungibleToken(ctx, 0)
	if err != nil {
		return nil, err
	}
	sig, err := s.chain.MintTo(ctx, mint, owner.WalletAddress, 1)
	if err != nil {
		s.logger.Warn(ctx, "nft mint created but unit not minted", "post_id", postID, "mint", mint, "error", err)
		return nil, err
	}

	token := &models.Token{
		MintAddress: mint,
		OwnerID:     accountID,
		PostID:      postID,
		Kind:        models.TokenNFT,
		Name:        name,
		Symbol:      symbol,
		Decimals:    0,
		Supply:      1,
		TxSignature: sig,
	}
	err = withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Tokens(tx).Create(ctx, token); err != nil {
			return err
		}
		return s.repomanager.Posts(tx).MarkTokenized(ctx, postID, mint)
	})
	if err != nil {
		s.logger.Error(ctx, "nft minted but not recorded", "post_id", postID, "mint", mint, "signature", sig, "error", err)
		return nil, fmt.Errorf("error recording nft: %w", err)
	}

	s.logger.Info(ctx, "post tokenized", "account_id", accountID, "post_id", postID, "mint", mint)
	return token, nil
}

// TransferNFT moves an NFT held by accountID to another platform account.
func (s *TokenService) TransferNFT(ctx context.Context, accountID, mint, toAccountID string) (*models.Trade, error) {
	if toAccountID == accountID {
		return nil, fmt.Errorf("%w: cannot transfer to self", common.ErrValidation)
	}

	unlock := s.locks.LockMany(accountKey(accountID), accountKey(toAccountID), "mint:"+mint)
	defer unlock()

	token, err := s.repomanager.Tokens(s.db).Get(ctx, mint)
	if err != nil {
		return nil, err
	}
	if token.Kind != models.TokenNFT {
		return nil, fmt.Errorf("%w: %s is not an nft", common.ErrValidation, mint)
	}
	if token.OwnerID != accountID {
		return nil, common.ErrForbidden
	}

	accounts := s.repomanager.Accounts(s.db)
	from, err := accounts.GetWithKey(ctx, accountID)
	if err != nil {
		return nil, err
	}
	to, err := accounts.GetByID(ctx, toAccountID)
	if err != nil {
		return nil, err
	}
	if to.WalletAddress == "" {
		return nil, common.ErrNoWallet
	}

	key, err := openAccountKey(ctx, s.vault, s.repomanager, s.db, s.logger, from)
	if err != nil {
		return nil, err
	}
	trade := &models.Trade{
		Kind:        models.TradeNFTTransfer,
		MintAddress: mint,
		FromAccount: accountID,
		ToAccount:   toAccountID,
		ToAddress:   to.WalletAddress,
		Amount:      decimal.NewFromInt(1),
	}

	sig, err := s.chain.Transfer(ctx, mint, from.WalletAddress, to.WalletAddress, 1, key)
	common.WipeByteArray(key)
	if err != nil {
		s.logger.Warn(ctx, "nft transfer failed", "mint", mint, "from", accountID, "to", toAccountID, "error", err)
		recordUncertainTrade(ctx, s.repomanager, s.db, s.logger, trade, err)
		return nil, err
	}
	trade.TxSignature = sig

	err = withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.applyTransfer(ctx, tx, trade); err != nil {
			return err
		}
		return s.repomanager.Trades(tx).Create(ctx, trade)
	})
	if err != nil {
		s.logger.Error(ctx, "nft transferred but not recorded", "mint", mint, "signature", sig, "error", err)
		return nil, fmt.Errorf("error recording nft transfer: %w", err)
	}

	s.logger.Info(ctx, "nft transferred", "mint", mint, "from", accountID, "to", toAccountID)
	return trade, nil
}

func (s *TokenService) applyTransfer(ctx context.Context, tx dbx.DBTX, t *models.Trade) error {
	return s.repomanager.Tokens(tx).UpdateOwner(ctx, t.MintAddress, t.FromAccount, t.ToAccount)
}

// ReconcileTransfers settles NFT transfers whose outcome was unknown: a
// confirmed signature moves ownership, a failed one marks the trade failed.
func (s *TokenService) ReconcileTransfers(ctx context.Context) (int, error) {
	return reconcileTrades(ctx, s.db, s.repomanager, s.chain, s.locks, s.logger, tradeSettlement{
		kind: models.TradeNFTTransfer,
		lockKeys: func(t *models.Trade) []string {
			return []string{accountKey(t.FromAccount), accountKey(t.ToAccount), "mint:" + t.MintAddress}
		},
		apply: s.applyTransfer,
	})
}

// ListNFTs returns the NFTs currently held by accountID.
func (s *TokenService) ListNFTs(ctx context.Context, accountID string) ([]*models.Token, error) {
	all, err := s.repomanager.Tokens(s.db).ListByOwner(ctx, accountID)
	if err != nil {
		return nil, err
	}
	nfts := make([]*models.Token, 0, len(all))
	for _, t := range all {
		if t.Kind == models.TokenNFT {
			nfts = append(nfts, t)
		}
	}
	return nfts, nil
}
