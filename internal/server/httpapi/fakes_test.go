package httpapi

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/dmitrijs2005/walletkeeper/internal/server/services"
	"github.com/shopspring/decimal"
)

var errNotStubbed = errors.New("not stubbed")

type fakeAccounts struct {
	signup    func(handle, contact, password string) (*models.Account, error)
	login     func(contact, password string) (*services.TokenPair, error)
	refresh   func(token string) (*services.TokenPair, error)
	export    func(id, password string) (string, error)
	info      func(id string) (*services.WalletInfo, error)
	setRole   func(id string, role models.Role) error
	audit     func(id string, limit int) ([]*models.AuditEvent, error)
	lastExpID string
}

func (f *fakeAccounts) Signup(_ context.Context, handle, contact, password string) (*models.Account, error) {
	if f.signup == nil {
		return nil, errNotStubbed
	}
	return f.signup(handle, contact, password)
}

func (f *fakeAccounts) Login(_ context.Context, contact, password string) (*services.TokenPair, error) {
	if f.login == nil {
		return nil, errNotStubbed
	}
	return f.login(contact, password)
}

func (f *fakeAccounts) RefreshToken(_ context.Context, token string) (*services.TokenPair, error) {
	if f.refresh == nil {
		return nil, errNotStubbed
	}
	return f.refresh(token)
}

func (f *fakeAccounts) ExportPrivateKey(_ context.Context, id, password string) (string, error) {
	f.lastExpID = id
	if f.export == nil {
		return "", errNotStubbed
	}
	return f.export(id, password)
}

func (f *fakeAccounts) GetWalletInfo(_ context.Context, id string) (*services.WalletInfo, error) {
	if f.info == nil {
		return nil, errNotStubbed
	}
	return f.info(id)
}

func (f *fakeAccounts) SetRole(_ context.Context, id string, role models.Role) error {
	if f.setRole == nil {
		return errNotStubbed
	}
	return f.setRole(id, role)
}

func (f *fakeAccounts) AuditLog(_ context.Context, id string, limit int) ([]*models.AuditEvent, error) {
	if f.audit == nil {
		return nil, errNotStubbed
	}
	return f.audit(id, limit)
}

type fakeRewards struct {
	claim   func(id string) (*services.ClaimResult, error)
	summary func(id string) (*services.RewardSummary, error)
	history func(id string, limit int) ([]*models.LedgerEntry, error)
}

func (f *fakeRewards) History(_ context.Context, id string, limit int) ([]*models.LedgerEntry, error) {
	if f.history == nil {
		return nil, errNotStubbed
	}
	return f.history(id, limit)
}

func (f *fakeRewards) Claim(_ context.Context, id string) (*services.ClaimResult, error) {
	if f.claim == nil {
		return nil, errNotStubbed
	}
	return f.claim(id)
}

func (f *fakeRewards) Summary(_ context.Context, id string) (*services.RewardSummary, error) {
	if f.summary == nil {
		return nil, errNotStubbed
	}
	return f.summary(id)
}

type fakeWallet struct {
	send    func(id, to string, amount decimal.Decimal) (*services.SendResult, error)
	history func(id string, limit int) ([]*models.Trade, error)
}

func (f *fakeWallet) History(_ context.Context, id string, limit int) ([]*models.Trade, error) {
	if f.history == nil {
		return nil, errNotStubbed
	}
	return f.history(id, limit)
}

func (f *fakeWallet) Send(_ context.Context, id, to string, amount decimal.Decimal) (*services.SendResult, error) {
	if f.send == nil {
		return nil, errNotStubbed
	}
	return f.send(id, to, amount)
}

type fakeTokens struct {
	mint     func(id, postID, name, symbol string) (*models.Token, error)
	transfer func(id, mint, to string) (*models.Trade, error)
	list     func(id string) ([]*models.Token, error)
}

func (f *fakeTokens) MintPostNFT(_ context.Context, id, postID, name, symbol string) (*models.Token, error) {
	if f.mint == nil {
		return nil, errNotStubbed
	}
	return f.mint(id, postID, name, symbol)
}

func (f *fakeTokens) TransferNFT(_ context.Context, id, mint, to string) (*models.Trade, error) {
	if f.transfer == nil {
		return nil, errNotStubbed
	}
	return f.transfer(id, mint, to)
}

func (f *fakeTokens) ListNFTs(_ context.Context, id string) ([]*models.Token, error) {
	if f.list == nil {
		return nil, errNotStubbed
	}
	return f.list(id)
}

type countLimiter struct {
	allowed int
	seen    []string
}

func (l *countLimiter) Allow(key string) bool {
	l.seen = append(l.seen, key)
	if l.allowed <= 0 {
		return false
	}
	l.allowed--
	return true
}
