// Package server initializes and runs the walletkeeper server: storage, the
// chain gateway, the services, the HTTP API and the reward scheduler.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/walletkeeper/internal/keyvault"
	"github.com/dmitrijs2005/walletkeeper/internal/logging"
	"github.com/dmitrijs2005/walletkeeper/internal/server/chain"
	"github.com/dmitrijs2005/walletkeeper/internal/server/config"
	"github.com/dmitrijs2005/walletkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/walletkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/walletkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/walletkeeper/internal/server/reports"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/walletkeeper/internal/server/scheduler"
	"github.com/dmitrijs2005/walletkeeper/internal/server/services"
	"github.com/gagliardetto/solana-go/rpc"
)

const (
	dbPingTimeout        = 10 * time.Second
	schedulerStopTimeout = 2 * time.Minute
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	vault     *keyvault.Vault
	api       *httpapi.Server
	scheduler *scheduler.Scheduler
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewZerologLogger(os.Stdout, c.LogLevel)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	db, err := openDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app, err := newApp(ctx, c, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return app, nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newApp(ctx context.Context, c *config.Config, db *sql.DB, logger logging.Logger) (*App, error) {
	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	vault, err := keyvault.NewVault(c.WalletEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("key vault error: %w", err)
	}

	mtr := metrics.New()

	gw, err := chain.NewGateway(rpc.New(c.SolanaRPCURL), chain.Config{
		FeePayerPrivateKey:      c.FeePayerPrivateKey,
		MintAuthorityPrivateKey: c.MintAuthorityPrivateKey,
		RewardMint:              c.SKRTokenMint,
		RewardDecimals:          c.SKRDecimals,
		Timeout:                 c.ChainTimeout,
	}, logger.With("component", "chain"), mtr)
	if err != nil {
		vault.Wipe()
		return nil, fmt.Errorf("chain gateway error: %w", err)
	}
	if gw.FeePayer() == "" {
		logger.Warn(ctx, "fee payer not configured, chain writes are disabled")
	}

	perLike, perComment, err := c.RewardRates()
	if err != nil {
		vault.Wipe()
		return nil, err
	}

	locks := services.NewKeyedMutex()
	exportLimiter := ratelimit.New(c.ExportRateInterval, c.ExportRateBurst)

	accounts := services.NewAccountService(db, m, vault, gw, locks, exportLimiter, c, logger.With("component", "accounts"))
	rewards := services.NewRewardEngine(db, m, gw, locks,
		services.RewardRates{PerLike: perLike, PerComment: perComment},
		c.SettlementPeriod, logger.With("component", "rewards"), mtr)
	rewards.SetStaleAfter(2 * c.ChainTimeout)
	wallet := services.NewWalletService(db, m, vault, gw, locks, logger.With("component", "wallet"))
	tokens := services.NewTokenService(db, m, vault, gw, locks, logger.With("component", "tokens"))

	// a nil *Archive must not end up in the interface
	var store scheduler.ReportStore
	archive, err := reports.New(ctx, c)
	if err != nil {
		vault.Wipe()
		return nil, fmt.Errorf("report archive error: %w", err)
	}
	if archive != nil {
		store = archive
	}

	sch, err := scheduler.New(c.RewardCron, c.SchedulerWorkers, rewards, m.Accounts(db), store, mtr,
		logger.With("component", "scheduler"))
	if err != nil {
		vault.Wipe()
		return nil, err
	}
	sch.AddReconciler(wallet.ReconcileSends)
	sch.AddReconciler(tokens.ReconcileTransfers)

	opts := httpapi.Options{
		JWTSecret:      []byte(c.SecretKey),
		InternalAPIKey: c.InternalAPIKey,
		TrustProxy:     c.TrustProxy,
		Metrics:        mtr,
		Logger:         logger.With("component", "http"),
	}
	if c.HTTPRateRPS > 0 {
		opts.Limiter = ratelimit.NewPerSecond(c.HTTPRateRPS, c.HTTPRateBurst)
	}
	api := httpapi.NewServer(accounts, rewards, wallet, tokens, opts)

	return &App{config: c, logger: logger, db: db, vault: vault, api: api, scheduler: sch}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.api.Run(ctx, app.config.HTTPAddr); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until a signal arrives or the HTTP server fails, then stops the
// scheduler, closes the database and wipes the vault key.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.scheduler.Start(ctx); err != nil {
		app.logger.Error(ctx, "scheduler start", "error", err)
		cancelFunc()
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), schedulerStopTimeout)
	defer cancel()
	if err := app.scheduler.Stop(stopCtx); err != nil {
		app.logger.Warn(stopCtx, "scheduler did not stop in time", "error", err)
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error(stopCtx, "db close", "error", err)
	}
	app.vault.Wipe()
	app.logger.Info(stopCtx, "App stopped")
}
