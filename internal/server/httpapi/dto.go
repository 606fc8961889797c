package httpapi

import (
	"time"

	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/dmitrijs2005/walletkeeper/internal/server/services"
	"github.com/shopspring/decimal"
)

type signupRequest struct {
	Handle   string `json:"handle"`
	Contact  string `json:"contact"`
	Password string `json:"password"`
}

type loginRequest struct {
	Contact  string `json:"contact"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type exportRequest struct {
	Password string `json:"password"`
}

type sendRequest struct {
	To string `json:"to"`
	// Amount is a decimal string to avoid float rounding.
	Amount string `json:"amount"`
}

type mintRequest struct {
	PostID string `json:"postId"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

type transferRequest struct {
	Mint        string `json:"mint"`
	ToAccountID string `json:"toAccountId"`
}

type roleRequest struct {
	Role models.Role `json:"role"`
}

type accountResponse struct {
	ID            string          `json:"id"`
	Handle        string          `json:"handle"`
	Contact       string          `json:"contact"`
	Role          models.Role     `json:"role"`
	WalletAddress string          `json:"walletAddress"`
	Balances      models.Balances `json:"balances"`
	CreatedAt     time.Time       `json:"createdAt"`
}

func toAccountResponse(a *models.Account) accountResponse {
	return accountResponse{
		ID:            a.ID,
		Handle:        a.Handle,
		Contact:       a.Contact,
		Role:          a.Role,
		WalletAddress: a.WalletAddress,
		Balances:      a.Balances,
		CreatedAt:     a.CreatedAt,
	}
}

type tokenPairResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type walletResponse struct {
	Address   string           `json:"address"`
	Balances  models.Balances  `json:"balances"`
	NativeSOL *decimal.Decimal `json:"nativeSol,omitempty"`
}

type exportResponse struct {
	PortableKey string `json:"portableKey"`
}

type sendResponse struct {
	TxSignature string          `json:"txSignature"`
	NewBalance  decimal.Decimal `json:"newBalance"`
	RecipientID string          `json:"recipientId,omitempty"`
}

type claimResponse struct {
	AmountPaid  decimal.Decimal `json:"amountPaid"`
	TxSignature string          `json:"txSignature"`
	NewBalance  decimal.Decimal `json:"newBalance"`
	Period      string          `json:"period"`
}

type summaryResponse struct {
	Balance         decimal.Decimal `json:"balance"`
	Pending         decimal.Decimal `json:"pending"`
	PaidToDate      decimal.Decimal `json:"paidToDate"`
	Posts           int64           `json:"posts"`
	Likes           int64           `json:"likes"`
	Comments        int64           `json:"comments"`
	Period          string          `json:"period"`
	ClaimedInPeriod bool            `json:"claimedInPeriod"`
}

func toSummaryResponse(s *services.RewardSummary) summaryResponse {
	return summaryResponse{
		Balance:         s.Balance,
		Pending:         s.Pending,
		PaidToDate:      s.PaidToDate,
		Posts:           s.Posts,
		Likes:           s.Likes,
		Comments:        s.Comments,
		Period:          s.Period,
		ClaimedInPeriod: s.ClaimedInPeriod,
	}
}

type tokenResponse struct {
	MintAddress string           `json:"mintAddress"`
	OwnerID     string           `json:"ownerId"`
	PostID      string           `json:"postId,omitempty"`
	Kind        models.TokenKind `json:"kind"`
	Name        string           `json:"name"`
	Symbol      string           `json:"symbol"`
	Supply      uint64           `json:"supply"`
	TxSignature string           `json:"txSignature,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

func toTokenResponse(t *models.Token) tokenResponse {
	return tokenResponse{
		MintAddress: t.MintAddress,
		OwnerID:     t.OwnerID,
		PostID:      t.PostID,
		Kind:        t.Kind,
		Name:        t.Name,
		Symbol:      t.Symbol,
		Supply:      t.Supply,
		TxSignature: t.TxSignature,
		CreatedAt:   t.CreatedAt,
	}
}

type tradeResponse struct {
	ID          string             `json:"id"`
	Kind        models.TradeKind   `json:"kind"`
	Status      models.TradeStatus `json:"status"`
	MintAddress string             `json:"mintAddress"`
	FromAccount string             `json:"fromAccount"`
	ToAccount   string             `json:"toAccount,omitempty"`
	ToAddress   string             `json:"toAddress"`
	Amount      decimal.Decimal    `json:"amount"`
	TxSignature string             `json:"txSignature"`
	CreatedAt   time.Time          `json:"createdAt"`
}

func toTradeResponse(t *models.Trade) tradeResponse {
	return tradeResponse{
		ID:          t.ID,
		Kind:        t.Kind,
		Status:      t.Status,
		MintAddress: t.MintAddress,
		FromAccount: t.FromAccount,
		ToAccount:   t.ToAccount,
		ToAddress:   t.ToAddress,
		Amount:      t.Amount,
		TxSignature: t.TxSignature,
		CreatedAt:   t.CreatedAt,
	}
}

type ledgerEntryResponse struct {
	Period      string              `json:"period"`
	Amount      decimal.Decimal     `json:"amount"`
	Likes       int64               `json:"likes"`
	Comments    int64               `json:"comments"`
	Status      models.LedgerStatus `json:"status"`
	TxSignature string              `json:"txSignature,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	ConfirmedAt *time.Time          `json:"confirmedAt,omitempty"`
}

func toLedgerEntryResponse(e *models.LedgerEntry) ledgerEntryResponse {
	return ledgerEntryResponse{
		Period:      e.Period,
		Amount:      e.Amount,
		Likes:       e.Likes,
		Comments:    e.Comments,
		Status:      e.Status,
		TxSignature: e.TxSignature,
		CreatedAt:   e.CreatedAt,
		ConfirmedAt: e.ConfirmedAt,
	}
}

type auditEventResponse struct {
	ID        string           `json:"id"`
	Kind      models.AuditKind `json:"kind"`
	Detail    string           `json:"detail,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}
