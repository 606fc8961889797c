// Package httpapi exposes the wallet, reward and NFT operations over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/walletkeeper/internal/logging"
	"github.com/dmitrijs2005/walletkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/dmitrijs2005/walletkeeper/internal/server/services"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type Accounts interface {
	Signup(ctx context.Context, handle, contact, password string) (*models.Account, error)
	Login(ctx context.Context, contact, password string) (*services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	ExportPrivateKey(ctx context.Context, accountID, password string) (string, error)
	GetWalletInfo(ctx context.Context, accountID string) (*services.WalletInfo, error)
	SetRole(ctx context.Context, accountID string, role models.Role) error
	AuditLog(ctx context.Context, accountID string, limit int) ([]*models.AuditEvent, error)
}

type Rewards interface {
	Claim(ctx context.Context, accountID string) (*services.ClaimResult, error)
	Summary(ctx context.Context, accountID string) (*services.RewardSummary, error)
	History(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error)
}

type Wallet interface {
	Send(ctx context.Context, accountID, toAddress string, amount decimal.Decimal) (*services.SendResult, error)
	History(ctx context.Context, accountID string, limit int) ([]*models.Trade, error)
}

type Tokens interface {
	MintPostNFT(ctx context.Context, accountID, postID, name, symbol string) (*models.Token, error)
	TransferNFT(ctx context.Context, accountID, mint, toAccountID string) (*models.Trade, error)
	ListNFTs(ctx context.Context, accountID string) ([]*models.Token, error)
}

// Limiter is a keyed request limiter, usually *ratelimit.Keyed.
type Limiter interface {
	Allow(key string) bool
}

// Options carries the non-service dependencies of the server.
type Options struct {
	JWTSecret      []byte
	InternalAPIKey string
	// TrustProxy makes rate limiting key on X-Forwarded-For.
	TrustProxy bool
	Limiter    Limiter
	Metrics    *metrics.Metrics
	Logger     logging.Logger
}

type Server struct {
	accounts Accounts
	rewards  Rewards
	wallet   Wallet
	tokens   Tokens
	opts     Options
	logger   logging.Logger
}

func NewServer(accounts Accounts, rewards Rewards, wallet Wallet, tokens Tokens, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}
	return &Server{
		accounts: accounts,
		rewards:  rewards,
		wallet:   wallet,
		tokens:   tokens,
		opts:     opts,
		logger:   opts.Logger,
	}
}

const shutdownTimeout = 30 * time.Second

type middleware func(http.Handler) http.Handler

func (s *Server) route(r *mux.Router, method, path string, h http.HandlerFunc, mws ...middleware) {
	var handler http.Handler = h
	for i := len(mws) - 1; i >= 0; i-- {
		handler = mws[i](handler)
	}
	r.Handle(path, s.opts.Metrics.InstrumentHandler(path, handler)).Methods(method)
}

// Handler builds the router with every route and the shared middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID, s.recoverer, s.accessLog, s.rateLimit)

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	s.route(r, http.MethodPost, "/auth/signup", s.signup)
	s.route(r, http.MethodPost, "/auth/login", s.login)
	s.route(r, http.MethodPost, "/auth/refresh", s.refresh)

	s.route(r, http.MethodPost, "/wallet", s.signup, s.requireInternalKey)
	s.route(r, http.MethodGet, "/wallet/{id}", s.walletInfo, s.authenticate, s.requireOwner)
	s.route(r, http.MethodPost, "/wallet/{id}/export", s.exportKey, s.authenticate, s.requireSelf)
	s.route(r, http.MethodPost, "/wallet/{id}/send", s.send, s.authenticate, s.requireSelf)
	s.route(r, http.MethodGet, "/wallet/{id}/trades", s.tradeHistory, s.authenticate, s.requireOwner)

	s.route(r, http.MethodPost, "/rewards/{id}/claim", s.claim, s.authenticate, s.requireSelf)
	s.route(r, http.MethodGet, "/rewards/{id}/summary", s.rewardSummary, s.authenticate, s.requireOwner)
	s.route(r, http.MethodGet, "/rewards/{id}/history", s.rewardHistory, s.authenticate, s.requireOwner)

	s.route(r, http.MethodPost, "/nft/{id}/mint", s.mintNFT, s.authenticate, s.requireSelf)
	s.route(r, http.MethodPost, "/nft/{id}/transfer", s.transferNFT, s.authenticate, s.requireSelf)
	s.route(r, http.MethodGet, "/nft/{id}", s.listNFTs, s.authenticate, s.requireOwner)

	s.route(r, http.MethodPut, "/admin/accounts/{id}/role", s.setRole, s.authenticate, s.requireAdmin)
	s.route(r, http.MethodGet, "/admin/accounts/{id}/audit", s.auditLog, s.authenticate, s.requireAdmin)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "route not found", "NOT_FOUND")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	})
	return r
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// chain writes wait for confirmation
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	listen, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := newHTTPServer(addr, s.Handler())

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
