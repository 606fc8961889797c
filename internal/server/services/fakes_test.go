package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/dmitrijs2005/walletkeeper/internal/dbx"
	"github.com/dmitrijs2005/walletkeeper/internal/keyvault"
	"github.com/dmitrijs2005/walletkeeper/internal/logging"
	"github.com/dmitrijs2005/walletkeeper/internal/server/auth"
	"github.com/dmitrijs2005/walletkeeper/internal/server/chain"
	"github.com/dmitrijs2005/walletkeeper/internal/server/config"
	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/audit"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/ledger"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/posts"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/tokens"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/trades"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- in-memory store ---

type memState struct {
	accounts map[string]models.Account
	refresh  map[string]models.RefreshToken
	ledger   map[string]models.LedgerEntry
	posts    map[string]models.Post
	tokens   map[string]models.Token
	trades   []models.Trade
	audit    []models.AuditEvent
}

func (s memState) clone() memState {
	c := memState{
		accounts: make(map[string]models.Account, len(s.accounts)),
		refresh:  make(map[string]models.RefreshToken, len(s.refresh)),
		ledger:   make(map[string]models.LedgerEntry, len(s.ledger)),
		posts:    make(map[string]models.Post, len(s.posts)),
		tokens:   make(map[string]models.Token, len(s.tokens)),
		trades:   append([]models.Trade(nil), s.trades...),
		audit:    append([]models.AuditEvent(nil), s.audit...),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.refresh {
		c.refresh[k] = v
	}
	for k, v := range s.ledger {
		c.ledger[k] = v
	}
	for k, v := range s.posts {
		c.posts[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	return c
}

type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	memState

	// versionConflicts makes the next N AddBalance calls fail.
	versionConflicts int
	auditErr         error
	createCalls      int
}

func newMemStore() *memStore {
	return &memStore{memState: memState{
		accounts: map[string]models.Account{},
		refresh:  map[string]models.RefreshToken{},
		ledger:   map[string]models.LedgerEntry{},
		posts:    map[string]models.Post{},
		tokens:   map[string]models.Token{},
	}}
}

// runTx serializes transactions and restores the previous state on error.
func (s *memStore) runTx(ctx context.Context, _ *sql.DB, _ *sql.TxOptions, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.memState.clone()
	s.mu.Unlock()

	if err := fn(ctx, nil); err != nil {
		s.mu.Lock()
		s.memState = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) account(id string) models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *memStore) ledgerEntries(accountID string) []models.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range s.ledger {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) auditKinds(accountID string) []models.AuditKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditKind
	for _, e := range s.audit {
		if e.AccountID == accountID {
			out = append(out, e.Kind)
		}
	}
	return out
}

type memManager struct{ s *memStore }

func (m memManager) RunMigrations(context.Context, *sql.DB) error    { return nil }
func (m memManager) Accounts(dbx.DBTX) accounts.Repository           { return memAccounts{m.s} }
func (m memManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return memRefresh{m.s} }
func (m memManager) Ledger(dbx.DBTX) ledger.Repository               { return memLedger{m.s} }
func (m memManager) Posts(dbx.DBTX) posts.Repository                 { return memPosts{m.s} }
func (m memManager) Tokens(dbx.DBTX) tokens.Repository               { return memTokens{m.s} }
func (m memManager) Trades(dbx.DBTX) trades.Repository               { return memTrades{m.s} }
func (m memManager) Audit(dbx.DBTX) audit.Repository                 { return memAudit{m.s} }

// --- accounts ---

type memAccounts struct{ s *memStore }

func (r memAccounts) Create(_ context.Context, a *models.Account) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.createCalls++
	for _, o := range r.s.accounts {
		if o.Handle == a.Handle || o.Contact == a.Contact || o.WalletAddress == a.WalletAddress {
			return nil, fmt.Errorf("%w: duplicate account", common.ErrConflict)
		}
	}
	c := *a
	c.ID = uuid.NewString()
	c.Version = 1
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	r.s.accounts[c.ID] = c
	out := c
	return &out, nil
}

func (r memAccounts) get(match func(models.Account) bool, withKey bool) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if match(a) {
			out := a
			if !withKey {
				out.EncryptedKey = ""
			}
			return &out, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r memAccounts) GetByID(_ context.Context, id string) (*models.Account, error) {
	return r.get(func(a models.Account) bool { return a.ID == id }, false)
}

func (r memAccounts) GetWithKey(_ context.Context, id string) (*models.Account, error) {
	return r.get(func(a models.Account) bool { return a.ID == id }, true)
}

func (r memAccounts) GetByContact(_ context.Context, contact string) (*models.Account, error) {
	return r.get(func(a models.Account) bool { return a.Contact == contact }, false)
}

func (r memAccounts) GetByWallet(_ context.Context, address string) (*models.Account, error) {
	return r.get(func(a models.Account) bool { return a.WalletAddress == address }, false)
}

func (r memAccounts) ExistsHandleOrContact(_ context.Context, handle, contact string) (bool, error) {
	_, err := r.get(func(a models.Account) bool { return a.Handle == handle || a.Contact == contact }, false)
	return err == nil, nil
}

func (r memAccounts) AddBalance(_ context.Context, id string, asset models.Asset, delta decimal.Decimal, expectedVersion int64) (decimal.Decimal, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.versionConflicts > 0 {
		r.s.versionConflicts--
		return decimal.Zero, 0, common.ErrVersionConflict
	}
	a, ok := r.s.accounts[id]
	if !ok || a.Version != expectedVersion {
		return decimal.Zero, 0, common.ErrVersionConflict
	}
	var bal *decimal.Decimal
	switch asset {
	case models.AssetSKR:
		bal = &a.Balances.SKR
	case models.AssetSOL:
		bal = &a.Balances.SOL
	default:
		return decimal.Zero, 0, common.ErrValidation
	}
	next := bal.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, 0, common.ErrInsufficientBalance
	}
	*bal = next
	a.Version++
	r.s.accounts[id] = a
	return next, a.Version, nil
}

func (r memAccounts) SetRole(_ context.Context, id string, role models.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return common.ErrNotFound
	}
	a.Role = role
	r.s.accounts[id] = a
	return nil
}

func (r memAccounts) ListByRole(_ context.Context, role models.Role, afterID string, limit int) ([]*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Account
	for _, a := range r.s.accounts {
		if a.Role == role && a.ID > afterID {
			c := a
			c.EncryptedKey = ""
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- refresh tokens ---

type memRefresh struct{ s *memStore }

func (r memRefresh) Create(_ context.Context, accountID, token string, validity time.Duration) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.refresh[token] = models.RefreshToken{AccountID: accountID, Token: token, Expires: time.Now().Add(validity)}
	return nil
}

func (r memRefresh) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.refresh[token]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &t, nil
}

func (r memRefresh) Rotate(_ context.Context, oldToken, newToken string, validity time.Duration) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.refresh[oldToken]
	if !ok || t.Expires.Before(time.Now()) {
		return "", common.ErrNotFound
	}
	delete(r.s.refresh, oldToken)
	r.s.refresh[newToken] = models.RefreshToken{AccountID: t.AccountID, Token: newToken, Expires: time.Now().Add(validity)}
	return t.AccountID, nil
}

func (r memRefresh) Delete(_ context.Context, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.refresh, token)
	return nil
}

// --- ledger ---

type memLedger struct{ s *memStore }

func (r memLedger) Reserve(_ context.Context, e *models.LedgerEntry) (*models.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.ledger {
		if o.AccountID == e.AccountID && o.Period == e.Period {
			return nil, common.ErrDuplicate
		}
	}
	c := *e
	c.ID = uuid.NewString()
	c.Status = models.LedgerPending
	c.CreatedAt = time.Now()
	r.s.ledger[c.ID] = c
	out := c
	return &out, nil
}

func (r memLedger) Find(_ context.Context, accountID, period string) (*models.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.ledger {
		if e.AccountID == accountID && e.Period == period {
			out := e
			return &out, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r memLedger) update(id string, allowed func(models.LedgerEntry) bool, apply func(*models.LedgerEntry)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.ledger[id]
	if !ok || !allowed(e) {
		return common.ErrNotFound
	}
	apply(&e)
	r.s.ledger[id] = e
	return nil
}

func (r memLedger) SetSignature(_ context.Context, id, signature string) error {
	return r.update(id,
		func(e models.LedgerEntry) bool { return e.Status == models.LedgerPending },
		func(e *models.LedgerEntry) { e.TxSignature = signature })
}

func (r memLedger) MarkConfirmed(_ context.Context, id, signature string) error {
	return r.update(id,
		func(e models.LedgerEntry) bool { return e.Status != models.LedgerConfirmed },
		func(e *models.LedgerEntry) {
			now := time.Now()
			e.Status = models.LedgerConfirmed
			e.TxSignature = signature
			e.ConfirmedAt = &now
		})
}

func (r memLedger) MarkUncertain(_ context.Context, id, signature string) error {
	return r.update(id,
		func(e models.LedgerEntry) bool { return e.Status == models.LedgerPending },
		func(e *models.LedgerEntry) {
			e.Status = models.LedgerUncertain
			if signature != "" {
				e.TxSignature = signature
			}
		})
}

func (r memLedger) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.ledger[id]
	if !ok || e.Status == models.LedgerConfirmed {
		return common.ErrNotFound
	}
	delete(r.s.ledger, id)
	return nil
}

func (r memLedger) Sums(_ context.Context, accountID string) (decimal.Decimal, decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all, confirmed := decimal.Zero, decimal.Zero
	for _, e := range r.s.ledger {
		if e.AccountID != accountID {
			continue
		}
		all = all.Add(e.Amount)
		if e.Status == models.LedgerConfirmed {
			confirmed = confirmed.Add(e.Amount)
		}
	}
	return all, confirmed, nil
}

func (r memLedger) list(match func(models.LedgerEntry) bool, limit int, newestFirst bool) []*models.LedgerEntry {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range r.s.ledger {
		if match(e) {
			c := e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return (out[i].Period < out[j].Period) != newestFirst })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r memLedger) ListByAccount(_ context.Context, accountID string, limit int) ([]*models.LedgerEntry, error) {
	return r.list(func(e models.LedgerEntry) bool { return e.AccountID == accountID }, limit, true), nil
}

func (r memLedger) ListUnsettled(_ context.Context, pendingBefore time.Time, limit int) ([]*models.LedgerEntry, error) {
	return r.list(func(e models.LedgerEntry) bool {
		return e.Status == models.LedgerUncertain ||
			(e.Status == models.LedgerPending && e.CreatedAt.Before(pendingBefore))
	}, limit, false), nil
}

// --- posts ---

type memPosts struct{ s *memStore }

func (r memPosts) EngagementTotals(_ context.Context, ownerID string) (posts.Totals, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var t posts.Totals
	for _, p := range r.s.posts {
		if p.OwnerID == ownerID {
			t.Posts++
			t.Likes += p.LikeCount
			t.Comments += p.CommentCount
		}
	}
	return t, nil
}

func (r memPosts) Get(_ context.Context, id string) (*models.Post, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &p, nil
}

func (r memPosts) MarkTokenized(_ context.Context, id, mintAddress string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.posts[id]
	if !ok || p.Tokenized {
		return common.ErrConflict
	}
	p.Tokenized = true
	p.TokenMintAddress = mintAddress
	r.s.posts[id] = p
	return nil
}

// --- tokens, trades, audit ---

type memTokens struct{ s *memStore }

func (r memTokens) Create(_ context.Context, t *models.Token) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tokens[t.MintAddress]; ok {
		return common.ErrConflict
	}
	r.s.tokens[t.MintAddress] = *t
	return nil
}

func (r memTokens) Get(_ context.Context, mint string) (*models.Token, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[mint]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &t, nil
}

func (r memTokens) ListByOwner(_ context.Context, ownerID string) ([]*models.Token, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Token
	for _, t := range r.s.tokens {
		if t.OwnerID == ownerID {
			c := t
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r memTokens) UpdateOwner(_ context.Context, mint, from, to string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[mint]
	if !ok || t.OwnerID != from {
		return common.ErrNotFound
	}
	t.OwnerID = to
	r.s.tokens[mint] = t
	return nil
}

type memTrades struct{ s *memStore }

func (r memTrades) Create(_ context.Context, t *models.Trade) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t.Status == "" {
		t.Status = models.TradeConfirmed
	}
	t.ID = uuid.NewString()
	t.CreatedAt = time.Now()
	r.s.trades = append(r.s.trades, *t)
	return nil
}

func (r memTrades) list(match func(models.Trade) bool, limit int, newestFirst bool) []*models.Trade {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Trade
	for i := range r.s.trades {
		idx := i
		if newestFirst {
			idx = len(r.s.trades) - 1 - i
		}
		if t := r.s.trades[idx]; match(t) {
			out = append(out, &t)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r memTrades) ListByAccount(_ context.Context, accountID string, limit int) ([]*models.Trade, error) {
	return r.list(func(t models.Trade) bool {
		return t.FromAccount == accountID || t.ToAccount == accountID
	}, limit, true), nil
}

func (r memTrades) ListUncertain(_ context.Context, kind models.TradeKind, limit int) ([]*models.Trade, error) {
	return r.list(func(t models.Trade) bool {
		return t.Kind == kind && t.Status == models.TradeUncertain
	}, limit, false), nil
}

func (r memTrades) Settle(_ context.Context, id string, status models.TradeStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, t := range r.s.trades {
		if t.ID == id && t.Status == models.TradeUncertain {
			r.s.trades[i].Status = status
			return nil
		}
	}
	return common.ErrNotFound
}

type memAudit struct{ s *memStore }

func (r memAudit) Record(_ context.Context, e *models.AuditEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.auditErr != nil {
		return r.s.auditErr
	}
	r.s.audit = append(r.s.audit, *e)
	return nil
}

func (r memAudit) ListByAccount(_ context.Context, accountID string, limit int) ([]*models.AuditEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.AuditEvent
	for i := len(r.s.audit) - 1; i >= 0; i-- {
		if e := r.s.audit[i]; e.AccountID == accountID {
			out = append(out, &e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- chain ---

type rewardCall struct {
	destination string
	amount      decimal.Decimal
}

type transferCall struct {
	mint, from, to string
	amount         uint64
	ownerAddress   string
}

type fakeChain struct {
	mu       sync.Mutex
	mint     string
	decimals uint8
	seq      int

	rewardErr   error
	rewardErrTo map[string]error
	rewards     []rewardCall

	transferErr error
	transfers   []transferCall
	// onTransfer runs after a successful transfer, before it is reported.
	onTransfer func()

	createErr error
	mintToErr error
	mintTos   []string

	statuses  map[string]chain.TxStatus
	native    decimal.Decimal
	nativeErr error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		mint:        "SKRmint1111111111111111111111111111111111111",
		decimals:    9,
		rewardErrTo: map[string]error{},
		statuses:    map[string]chain.TxStatus{},
	}
}

func (c *fakeChain) sig() string {
	c.seq++
	return fmt.Sprintf("sig-%d", c.seq)
}

func (c *fakeChain) CreateFungibleToken(context.Context, uint8) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return "", "", c.createErr
	}
	addr, _, err := keyvault.GenerateKeyPair()
	if err != nil {
		return "", "", err
	}
	return addr, c.sig(), nil
}

func (c *fakeChain) MintTo(_ context.Context, mint, destination string, amount uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mintToErr != nil {
		return "", c.mintToErr
	}
	c.mintTos = append(c.mintTos, mint)
	return c.sig(), nil
}

func (c *fakeChain) Transfer(_ context.Context, mint, from, to string, amount uint64, owner []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transferErr != nil {
		return "", c.transferErr
	}
	ownerAddr, err := keyvault.AddressOf(owner)
	if err != nil {
		return "", err
	}
	c.transfers = append(c.transfers, transferCall{mint: mint, from: from, to: to, amount: amount, ownerAddress: ownerAddr})
	if c.onTransfer != nil {
		c.onTransfer()
	}
	return c.sig(), nil
}

// RewardMint hands the signature to beforeSend like the gateway does, then
// fails with the configured error if any. A ChainError carrying a signature
// is treated as the one that was signed.
func (c *fakeChain) RewardMint(ctx context.Context, destination string, amount decimal.Decimal, beforeSend chain.BeforeSend) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.rewardErrTo[destination]
	if err == nil {
		err = c.rewardErr
	}
	sig := c.sig()
	var ce *chain.ChainError
	if errors.As(err, &ce) && ce.Signature != "" {
		sig = ce.Signature
	}
	if beforeSend != nil {
		if herr := beforeSend(ctx, sig); herr != nil {
			return "", &chain.ChainError{Op: "reward_mint", Broadcast: chain.BroadcastNone, Err: herr}
		}
	}
	if err != nil {
		return "", err
	}
	c.rewards = append(c.rewards, rewardCall{destination: destination, amount: amount})
	return sig, nil
}

func (c *fakeChain) RewardMintAddress() string { return c.mint }
func (c *fakeChain) RewardDecimals() uint8     { return c.decimals }

func (c *fakeChain) NativeBalance(context.Context, string) (decimal.Decimal, error) {
	return c.native, c.nativeErr
}

func (c *fakeChain) SignatureStatus(_ context.Context, sig string) (chain.TxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[sig], nil
}

func (c *fakeChain) rewardCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rewards)
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (o *countingObserver) ObserveClaim(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[string]int{}
	}
	o.outcomes[outcome]++
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }

// --- environment ---

type testEnv struct {
	store    *memStore
	chain    *fakeChain
	vault    *keyvault.Vault
	locks    *KeyedMutex
	observer *countingObserver
	now      time.Time

	accounts *AccountService
	rewards  *RewardEngine
	wallet   *WalletService
	tokens   *TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	restoreCost := auth.SetPasswordCostForTests(bcrypt.MinCost)
	store := newMemStore()
	prevTx := withTx
	withTx = store.runTx
	t.Cleanup(func() {
		withTx = prevTx
		restoreCost()
	})

	cfg := &config.Config{
		SecretKey:                    "k",
		AccessTokenValidityDuration:  time.Hour,
		RefreshTokenValidityDuration: 2 * time.Hour,
	}
	logger := logging.NewDiscardLogger()
	m := memManager{store}
	fc := newFakeChain()
	vault := keyvault.NewVaultWithKey(make([]byte, 32))
	locks := NewKeyedMutex()
	observer := &countingObserver{}

	env := &testEnv{
		store:    store,
		chain:    fc,
		vault:    vault,
		locks:    locks,
		observer: observer,
		now:      time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
	}
	env.accounts = NewAccountService(nil, m, vault, fc, locks, nil, cfg, logger)
	env.rewards = NewRewardEngine(nil, m, fc, locks, RewardRates{
		PerLike:    decimal.RequireFromString("0.1"),
		PerComment: decimal.RequireFromString("0.5"),
	}, 24*time.Hour, logger, observer)
	env.rewards.now = func() time.Time { return env.now }
	env.wallet = NewWalletService(nil, m, vault, fc, locks, logger)
	env.tokens = NewTokenService(nil, m, vault, fc, locks, logger)
	return env
}

// addAccount stores an account with a real sealed key, bypassing Signup.
func (e *testEnv) addAccount(t require.TestingT, role models.Role, skr string) *models.Account {
	addr, key, err := keyvault.GenerateKeyPair()
	require.NoError(t, err)
	sealed, err := e.vault.Seal(key)
	require.NoError(t, err)

	a, err := memAccounts{e.store}.Create(context.Background(), &models.Account{
		Handle:        "h" + addr[:12],
		Contact:       addr[:12] + "@example.com",
		Role:          role,
		WalletAddress: addr,
		EncryptedKey:  sealed,
		Balances:      models.Balances{SKR: decimal.RequireFromString(skr)},
	})
	require.NoError(t, err)
	return a
}

func (e *testEnv) addPost(ownerID string, likes, comments int64) string {
	id := uuid.NewString()
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.posts[id] = models.Post{
		ID:         id,
		OwnerID:    ownerID,
		Engagement: models.Engagement{PostID: id, LikeCount: likes, CommentCount: comments},
	}
	return id
}

func uncertainErr(sig string) error {
	return &chain.ChainError{Op: "reward_mint", Broadcast: chain.BroadcastUncertain, Signature: sig, Err: errors.New("timeout")}
}

func rejectedErr() error {
	return &chain.ChainError{Op: "reward_mint", Broadcast: chain.BroadcastNone, Err: errors.New("node rejected")}
}
