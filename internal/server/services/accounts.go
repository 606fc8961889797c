package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/dmitrijs2005/walletkeeper/internal/keyvault"
	"github.com/dmitrijs2005/walletkeeper/internal/logging"
	"github.com/dmitrijs2005/walletkeeper/internal/server/auth"
	"github.com/dmitrijs2005/walletkeeper/internal/server/config"
	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
	"github.com/dmitrijs2005/walletkeeper/internal/server/repositories/repomanager"
	"github.com/shopspring/decimal"
)

const minPasswordLength = 8

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,30}$`)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// WalletInfo is the public view of a custodial wallet. NativeSOL is nil when
// the chain could not be queried.
type WalletInfo struct {
	Address   string
	Balances  models.Balances
	NativeSOL *decimal.Decimal
}

// Limiter decides whether a keyed event may happen now.
type Limiter interface {
	Allow(key string) bool
}

// AccountService provides account lifecycle and custodial key operations:
// - Signup: create the account together with its encrypted wallet key
// - Login / RefreshToken: verify credentials and mint tokens
// - ExportPrivateKey: audited, rate-limited release of the raw key
type AccountService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	vault                        *keyvault.Vault
	chain                        Chain
	locks                        *KeyedMutex
	exportLimiter                Limiter
	logger                       logging.Logger
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
}

// NewAccountService wires the service. chain may be nil, in which case
// wallet info carries stored balances only.
func NewAccountService(db *sql.DB, m repomanager.RepositoryManager, vault *keyvault.Vault, chain Chain,
	locks *KeyedMutex, exportLimiter Limiter, cfg *config.Config, logger logging.Logger) *AccountService {
	return &AccountService{
		db:                           db,
		repomanager:                  m,
		vault:                        vault,
		chain:                        chain,
		locks:                        locks,
		exportLimiter:                exportLimiter,
		logger:                       logger,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
	}
}

func normalizeContact(contact string) string {
	return strings.ToLower(strings.TrimSpace(contact))
}

func validateSignup(handle, contact, password string) error {
	if !handlePattern.MatchString(handle) {
		return fmt.Errorf("%w: handle must be 3-30 letters, digits or underscores", common.ErrValidation)
	}
	addr, err := mail.ParseAddress(contact)
	if err != nil || addr.Address != contact {
		return fmt.Errorf("%w: contact must be an e-mail address", common.ErrValidation)
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, minPasswordLength)
	}
	return nil
}

// Signup registers an account and provisions its custodial wallet. The key
// pair is generated only after the handle and contact are known to be free.
func (s *AccountService) Signup(ctx context.Context, handle, contact, password string) (*models.Account, error) {
	handle = strings.TrimSpace(handle)
	contact = normalizeContact(contact)
	if err := validateSignup(handle, contact, password); err != nil {
		return nil, err
	}

	unlock := s.locks.LockMany("contact:"+contact, "handle:"+handle)
	defer unlock()

	repo := s.repomanager.Accounts(s.db)
	taken, err := repo.ExistsHandleOrContact(ctx, handle, contact)
	if err != nil {
		return nil, fmt.Errorf("error checking account: %w", err)
	}
	if taken {
		return nil, fmt.Errorf("%w: handle or contact already registered", common.ErrConflict)
	}

	address, privateKey, err := keyvault.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("error generating key pair: %w", err)
	}
	defer common.WipeByteArray(privateKey)

	sealed, err := s.vault.Seal(privateKey)
	if err != nil {
		return nil, fmt.Errorf("error sealing key: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	account, err := repo.Create(ctx, &models.Account{
		Handle:        handle,
		Contact:       contact,
		PasswordHash:  hash,
		Role:          models.RoleStandard,
		WalletAddress: address,
		EncryptedKey:  sealed,
	})
	if err != nil {
		return nil, err
	}
	account.EncryptedKey = ""

	s.logger.Info(ctx, "account created", "account_id", account.ID, "wallet", account.WalletAddress)
	return account, nil
}

// Login verifies the password and, on success, returns a new TokenPair.
func (s *AccountService) Login(ctx context.Context, contact, password string) (*TokenPair, error) {
	account, err := s.repomanager.Accounts(s.db).GetByContact(ctx, normalizeContact(contact))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthorized
		}
		return nil, err
	}
	if err := auth.CheckPassword(account.PasswordHash, password); err != nil {
		return nil, err
	}
	return s.generateTokenPair(ctx, account)
}

// RefreshToken consumes a refresh token and returns a fresh TokenPair.
// Expired tokens yield ErrRefreshTokenExpired.
func (s *AccountService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	repo := s.repomanager.RefreshTokens(s.db)

	token, err := repo.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthorized
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	if token.Expired(time.Now()) {
		return nil, common.ErrRefreshTokenExpired
	}

	next, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, err
	}
	accountID, err := repo.Rotate(ctx, refreshToken, next, s.refreshTokenValidityDuration)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// lost a race with another refresh of the same token
			return nil, common.ErrUnauthorized
		}
		return nil, fmt.Errorf("error rotating refresh token: %w", err)
	}

	account, err := s.repomanager.Accounts(s.db).GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	access, err := auth.GenerateToken(account, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: next}, nil
}

// ExportPrivateKey returns the account's key in portable base58 form after a
// fresh password check. Every attempt is audited; the key is released only
// once the success event is stored.
func (s *AccountService) ExportPrivateKey(ctx context.Context, accountID, password string) (string, error) {
	if s.exportLimiter != nil && !s.exportLimiter.Allow(accountID) {
		s.recordDenied(ctx, accountID, "rate limited")
		return "", common.ErrRateLimited
	}

	account, err := s.repomanager.Accounts(s.db).GetWithKey(ctx, accountID)
	if err != nil {
		return "", err
	}
	if err := auth.CheckPassword(account.PasswordHash, password); err != nil {
		s.recordDenied(ctx, accountID, "password mismatch")
		return "", err
	}

	raw, err := s.openKey(ctx, account)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(raw)

	if err := s.recordAudit(ctx, accountID, models.AuditKeyExport, ""); err != nil {
		return "", fmt.Errorf("error recording export: %w", err)
	}
	s.logger.Info(ctx, "private key exported", "account_id", accountID)
	return keyvault.ExportPortable(raw), nil
}

// GetWalletInfo returns the wallet address, the stored balances and, when the
// chain answers, the live native balance.
func (s *AccountService) GetWalletInfo(ctx context.Context, accountID string) (*WalletInfo, error) {
	account, err := s.repomanager.Accounts(s.db).GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	info := &WalletInfo{Address: account.WalletAddress, Balances: account.Balances}
	if s.chain != nil && account.WalletAddress != "" {
		sol, err := s.chain.NativeBalance(ctx, account.WalletAddress)
		if err != nil {
			s.logger.Warn(ctx, "native balance unavailable", "account_id", accountID, "error", err)
		} else {
			info.NativeSOL = &sol
		}
	}
	return info, nil
}

// SetRole changes the role of an account.
func (s *AccountService) SetRole(ctx context.Context, accountID string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", common.ErrValidation, role)
	}
	if err := s.repomanager.Accounts(s.db).SetRole(ctx, accountID, role); err != nil {
		return err
	}
	s.logger.Info(ctx, "role changed", "account_id", accountID, "role", string(role))
	return nil
}

// AuditLog returns the security events recorded for an account, newest first.
func (s *AccountService) AuditLog(ctx context.Context, accountID string, limit int) ([]*models.AuditEvent, error) {
	if _, err := s.repomanager.Accounts(s.db).GetByID(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repomanager.Audit(s.db).ListByAccount(ctx, accountID, historyLimit(limit))
}

func (s *AccountService) openKey(ctx context.Context, account *models.Account) ([]byte, error) {
	return openAccountKey(ctx, s.vault, s.repomanager, s.db, s.logger, account)
}

func (s *AccountService) recordAudit(ctx context.Context, accountID string, kind models.AuditKind, detail string) error {
	return s.repomanager.Audit(s.db).Record(ctx, &models.AuditEvent{AccountID: accountID, Kind: kind, Detail: detail})
}

func (s *AccountService) recordDenied(ctx context.Context, accountID, reason string) {
	if err := s.recordAudit(ctx, accountID, models.AuditKeyExportDenied, reason); err != nil {
		s.logger.Error(ctx, "audit write failed", "account_id", accountID, "error", err)
	}
	s.logger.Warn(ctx, "private key export denied", "account_id", accountID, "reason", reason)
}

func (s *AccountService) generateTokenPair(ctx context.Context, account *models.Account) (*TokenPair, error) {
	access, err := auth.GenerateToken(account, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, err
	}
	refresh, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, err
	}
	if err := s.repomanager.RefreshTokens(s.db).Create(ctx, account.ID, refresh, s.refreshTokenValidityDuration); err != nil {
		return nil, fmt.Errorf("error storing refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
