package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenKind distinguishes NFTs from fungible tokens.
type TokenKind string

const (
	TokenNFT      TokenKind = "nft"
	TokenFungible TokenKind = "token"
)

// Token is an on-chain mint created by the platform.
type Token struct {
	MintAddress string
	OwnerID     string
	PostID      string
	Kind        TokenKind
	Name        string
	Symbol      string
	Decimals    uint8
	Supply      uint64
	TxSignature string
	CreatedAt   time.Time
}

// TradeKind tells SKR sends from NFT transfers.
type TradeKind string

const (
	TradeSend        TradeKind = "send"
	TradeNFTTransfer TradeKind = "nft_transfer"
)

// TradeStatus is the settlement state of a trade.
type TradeStatus string

const (
	TradeConfirmed TradeStatus = "confirmed"
	// TradeUncertain means the transfer may have been broadcast; balances and
	// ownership are untouched until reconciliation sees the signature.
	TradeUncertain TradeStatus = "uncertain"
	TradeFailed    TradeStatus = "failed"
)

// Trade records a transfer between two parties.
type Trade struct {
	ID          string
	Kind        TradeKind
	Status      TradeStatus
	MintAddress string
	FromAccount string
	// ToAccount is empty when the recipient is an external address.
	ToAccount   string
	ToAddress   string
	Amount      decimal.Decimal
	TxSignature string
	CreatedAt   time.Time
}
