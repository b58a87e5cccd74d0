package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/models"
)

// getPortfolio loads a portfolio with all its assets. forUpdate locks the
// portfolio row so concurrent transactions for the same user queue up.
func getPortfolio(ctx context.Context, q PgxQuerier, userID uuid.UUID, forUpdate bool) (*models.Portfolio, error) {
	query := `SELECT user_id, created_at, updated_at FROM portfolios WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	p := &models.Portfolio{Assets: make(map[string]models.AssetBalance)}
	err := q.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting portfolio for user %s: %w", userID, err)
	}

	rows, err := q.Query(ctx, `SELECT asset, available::text, locked::text
			  FROM portfolio_assets WHERE user_id = $1 ORDER BY asset`, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying assets for user %s: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var asset, availableStr, lockedStr string
		if err := rows.Scan(&asset, &availableStr, &lockedStr); err != nil {
			return nil, fmt.Errorf("error scanning asset row for user %s: %w", userID, err)
		}
		available, err := decimal.NewFromString(availableStr)
		if err != nil {
			return nil, fmt.Errorf("parse available %s: %w", asset, err)
		}
		locked, err := decimal.NewFromString(lockedStr)
		if err != nil {
			return nil, fmt.Errorf("parse locked %s: %w", asset, err)
		}
		p.Assets[asset] = models.AssetBalance{Available: available, Locked: locked}
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating asset rows for user %s: %w", userID, rows.Err())
	}
	return p, nil
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, userID uuid.UUID) (*models.Portfolio, error) {
	return getPortfolio(ctx, s.pool, userID, false)
}

func (t *pgTx) GetPortfolio(ctx context.Context, userID uuid.UUID) (*models.Portfolio, error) {
	return getPortfolio(ctx, t.tx, userID, true)
}

// SavePortfolio upserts the portfolio row and every asset row.
func (t *pgTx) SavePortfolio(ctx context.Context, p *models.Portfolio) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO portfolios (user_id, created_at, updated_at)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (user_id) DO UPDATE SET updated_at = EXCLUDED.updated_at`,
		p.UserID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error saving portfolio for user %s: %w", p.UserID, err)
	}

	for asset, bal := range p.Assets {
		_, err := t.tx.Exec(ctx, `INSERT INTO portfolio_assets (user_id, asset, available, locked)
				  VALUES ($1, $2, $3, $4)
				  ON CONFLICT (user_id, asset) DO UPDATE SET available = EXCLUDED.available, locked = EXCLUDED.locked`,
			p.UserID, asset, bal.Available.String(), bal.Locked.String())
		if err != nil {
			return fmt.Errorf("error saving %s balance for user %s: %w", asset, p.UserID, err)
		}
	}
	return nil
}

func getAccountBalances(ctx context.Context, q PgxQuerier, userID uuid.UUID, forUpdate bool) (*models.AccountBalances, error) {
	query := `SELECT user_id, primary_balance::text, spot_balance::text, futures_balance::text, options_balance::text, updated_at
			  FROM account_balances WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	b := &models.AccountBalances{}
	var primary, spot, futures, options string
	err := q.QueryRow(ctx, query, userID).Scan(&b.UserID, &primary, &spot, &futures, &options, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting account balances for user %s: %w", userID, err)
	}

	for name, raw := range map[string]string{
		models.AccountPrimary: primary,
		models.AccountSpot:    spot,
		models.AccountFutures: futures,
		models.AccountOptions: options,
	} {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s balance: %w", name, err)
		}
		b.Set(name, v)
	}
	return b, nil
}

func (s *PostgresStore) GetAccountBalances(ctx context.Context, userID uuid.UUID) (*models.AccountBalances, error) {
	return getAccountBalances(ctx, s.pool, userID, false)
}

func (t *pgTx) GetAccountBalances(ctx context.Context, userID uuid.UUID) (*models.AccountBalances, error) {
	return getAccountBalances(ctx, t.tx, userID, true)
}

func (t *pgTx) SaveAccountBalances(ctx context.Context, b *models.AccountBalances) error {
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO account_balances
			  (user_id, primary_balance, spot_balance, futures_balance, options_balance, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (user_id) DO UPDATE SET
			    primary_balance = EXCLUDED.primary_balance,
			    spot_balance = EXCLUDED.spot_balance,
			    futures_balance = EXCLUDED.futures_balance,
			    options_balance = EXCLUDED.options_balance,
			    updated_at = EXCLUDED.updated_at`,
		b.UserID, b.Primary.String(), b.Spot.String(), b.Futures.String(), b.Options.String(), b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error saving account balances for user %s: %w", b.UserID, err)
	}
	return nil
}
