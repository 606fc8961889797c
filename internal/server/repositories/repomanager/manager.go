package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/walletkeeper/internal/dbx"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/audit"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/ledger"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/posts"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/tokens"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/trades"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Ledger(db dbx.DBTX) ledger.Repository
	Posts(db dbx.DBTX) posts.Repository
	Tokens(db dbx.DBTX) tokens.Repository
	Trades(db dbx.DBTX) trades.Repository
	Audit(db dbx.DBTX) audit.Repository
}
