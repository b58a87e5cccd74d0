// Package ledger owns every mutation of user portfolios and account balances.
//
// The *Funds methods run inside a caller supplied transaction and assume the
// caller already holds the user's lock. Lock, Unlock, Settle and Transfer take
// the lock and open the transaction themselves.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperr"
	"github.com/user/papertrade/backend/internal/database"
	"github.com/user/papertrade/backend/internal/models"
	"github.com/user/papertrade/backend/internal/userlock"
)

// Config holds the starting allocation for lazily created records.
type Config struct {
	StartingAsset   string
	StartingAmount  decimal.Decimal
	StartingPrimary decimal.Decimal
}

type Ledger struct {
	store  database.Store
	locks  *userlock.Locker
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func New(store database.Store, locks *userlock.Locker, cfg Config, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = userlock.New()
	}
	if cfg.StartingAsset == "" {
		cfg.StartingAsset = "USDT"
	}
	return &Ledger{
		store:  store,
		locks:  locks,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Locks returns the per-user locker shared with the order service and engine.
func (l *Ledger) Locks() *userlock.Locker { return l.locks }

// Atomically runs fn in one transaction while holding userID's lock.
func (l *Ledger) Atomically(ctx context.Context, userID uuid.UUID, fn func(tx database.Tx) error) error {
	return l.locks.WithLock(userID, func() error {
		return l.store.InTx(ctx, fn)
	})
}

// EnsurePortfolio loads the user's portfolio, creating it with the starting allocation on first access.
func (l *Ledger) EnsurePortfolio(ctx context.Context, tx database.Tx, userID uuid.UUID) (*models.Portfolio, error) {
	p, err := tx.GetPortfolio(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, apperr.Internal(err, "load portfolio")
	}

	p = models.NewPortfolio(userID, l.now())
	if l.cfg.StartingAmount.IsPositive() {
		p.Assets[l.cfg.StartingAsset] = models.AssetBalance{Available: l.cfg.StartingAmount, Locked: decimal.Zero}
	}
	if err := tx.SavePortfolio(ctx, p); err != nil {
		return nil, apperr.Internal(err, "create portfolio")
	}
	l.logger.Info("portfolio created", "user_id", userID, "asset", l.cfg.StartingAsset, "amount", l.cfg.StartingAmount.String())
	return p, nil
}

// LockFunds moves qty of asset from available to locked.
func (l *Ledger) LockFunds(ctx context.Context, tx database.Tx, userID uuid.UUID, asset string, qty decimal.Decimal) error {
	if err := requirePositive("lock quantity", qty); err != nil {
		return err
	}
	if asset = normalizeAsset(asset); asset == "" {
		return apperr.Validation("asset is required")
	}
	return l.mutate(ctx, tx, userID, "lock", func(p *models.Portfolio) error {
		return lockAsset(p, asset, qty)
	})
}

// UnlockFunds reverses a prior LockFunds. Releasing more than is locked is an invariant violation.
func (l *Ledger) UnlockFunds(ctx context.Context, tx database.Tx, userID uuid.UUID, asset string, qty decimal.Decimal) error {
	if err := requirePositive("unlock quantity", qty); err != nil {
		return err
	}
	if asset = normalizeAsset(asset); asset == "" {
		return apperr.Validation("asset is required")
	}
	return l.mutate(ctx, tx, userID, "unlock", func(p *models.Portfolio) error {
		return unlockAsset(p, asset, qty)
	})
}

// SettleFunds removes debitQty from the locked pool of debitAsset and credits creditQty to the available pool of creditAsset.
func (l *Ledger) SettleFunds(ctx context.Context, tx database.Tx, userID uuid.UUID, debitAsset string, debitQty decimal.Decimal, creditAsset string, creditQty decimal.Decimal) error {
	if err := requirePositive("settle debit", debitQty); err != nil {
		return err
	}
	if creditQty.IsNegative() {
		return apperr.Validation("settle credit must not be negative, got %s", creditQty)
	}
	debitAsset, creditAsset = normalizeAsset(debitAsset), normalizeAsset(creditAsset)
	if debitAsset == "" || creditAsset == "" {
		return apperr.Validation("debit and credit assets are required")
	}
	return l.mutate(ctx, tx, userID, "settle", func(p *models.Portfolio) error {
		return settleAssets(p, debitAsset, debitQty, creditAsset, creditQty)
	})
}

// mutate applies fn to a copy of the portfolio and persists it only when fn succeeds.
func (l *Ledger) mutate(ctx context.Context, tx database.Tx, userID uuid.UUID, op string, fn func(p *models.Portfolio) error) error {
	current, err := l.EnsurePortfolio(ctx, tx, userID)
	if err != nil {
		return err
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		if apperr.IsKind(err, apperr.KindInvariantViolation) {
			l.logger.Error("ledger invariant violated",
				"op", op,
				"user_id", userID,
				"error", err,
				"assets", current.Assets,
			)
		}
		return err
	}
	next.UpdatedAt = l.now()
	if err := tx.SavePortfolio(ctx, next); err != nil {
		return apperr.Internal(err, "save portfolio")
	}
	return nil
}

// Lock is LockFunds in its own transaction under the user's lock.
func (l *Ledger) Lock(ctx context.Context, userID uuid.UUID, asset string, qty decimal.Decimal) error {
	return l.Atomically(ctx, userID, func(tx database.Tx) error {
		return l.LockFunds(ctx, tx, userID, asset, qty)
	})
}

// Unlock is UnlockFunds in its own transaction under the user's lock.
func (l *Ledger) Unlock(ctx context.Context, userID uuid.UUID, asset string, qty decimal.Decimal) error {
	return l.Atomically(ctx, userID, func(tx database.Tx) error {
		return l.UnlockFunds(ctx, tx, userID, asset, qty)
	})
}

// Settle is SettleFunds in its own transaction under the user's lock.
func (l *Ledger) Settle(ctx context.Context, userID uuid.UUID, debitAsset string, debitQty decimal.Decimal, creditAsset string, creditQty decimal.Decimal) error {
	return l.Atomically(ctx, userID, func(tx database.Tx) error {
		return l.SettleFunds(ctx, tx, userID, debitAsset, debitQty, creditAsset, creditQty)
	})
}

// GetPortfolio returns the user's portfolio, creating it on first access.
func (l *Ledger) GetPortfolio(ctx context.Context, userID uuid.UUID) (*models.Portfolio, error) {
	p, err := l.store.GetPortfolio(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, apperr.Internal(err, "load portfolio")
	}

	err = l.Atomically(ctx, userID, func(tx database.Tx) error {
		p, err = l.EnsurePortfolio(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (l *Ledger) ensureAccountBalances(ctx context.Context, tx database.Tx, userID uuid.UUID) (*models.AccountBalances, error) {
	b, err := tx.GetAccountBalances(ctx, userID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, apperr.Internal(err, "load account balances")
	}
	b = &models.AccountBalances{
		UserID:    userID,
		Primary:   l.cfg.StartingPrimary,
		Spot:      decimal.Zero,
		Futures:   decimal.Zero,
		Options:   decimal.Zero,
		UpdatedAt: l.now(),
	}
	if err := tx.SaveAccountBalances(ctx, b); err != nil {
		return nil, apperr.Internal(err, "create account balances")
	}
	return b, nil
}

// GetAccountBalances returns the user's named balances, creating the record on first access.
func (l *Ledger) GetAccountBalances(ctx context.Context, userID uuid.UUID) (*models.AccountBalances, error) {
	b, err := l.store.GetAccountBalances(ctx, userID)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, apperr.Internal(err, "load account balances")
	}

	err = l.Atomically(ctx, userID, func(tx database.Tx) error {
		b, err = l.ensureAccountBalances(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Transfer moves amount between two named balances. Both sides change or neither does.
func (l *Ledger) Transfer(ctx context.Context, userID uuid.UUID, from, to string, amount decimal.Decimal) (*models.AccountBalances, error) {
	from, to = strings.ToLower(strings.TrimSpace(from)), strings.ToLower(strings.TrimSpace(to))
	if err := requirePositive("amount", amount); err != nil {
		return nil, err
	}
	if from == to {
		return nil, apperr.Validation("source and destination accounts must differ")
	}

	var result *models.AccountBalances
	err := l.Atomically(ctx, userID, func(tx database.Tx) error {
		b, err := l.ensureAccountBalances(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := transferBetween(b, from, to, amount); err != nil {
			return err
		}
		b.UpdatedAt = l.now()
		if err := tx.SaveAccountBalances(ctx, b); err != nil {
			return apperr.Internal(err, "save account balances")
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("balance transferred", "user_id", userID, "from", from, "to", to, "amount", amount.String())
	return result, nil
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
