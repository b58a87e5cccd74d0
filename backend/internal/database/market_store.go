package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/models"
)

func scanMarket(row pgx.Row) (*models.Market, error) {
	m := &models.Market{}
	var price, volume string
	if err := row.Scan(&m.Symbol, &m.BaseAsset, &m.QuoteAsset, &price, &volume, &m.LastUpdated); err != nil {
		return nil, err
	}
	var err error
	if m.LastPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse last price: %w", err)
	}
	if m.Volume24h, err = decimal.NewFromString(volume); err != nil {
		return nil, fmt.Errorf("parse volume: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) UpsertMarket(ctx context.Context, m *models.Market) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO markets (symbol, base_asset, quote_asset, last_price, volume_24h, last_updated)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  ON CONFLICT (symbol) DO UPDATE SET
			    last_price = EXCLUDED.last_price,
			    volume_24h = EXCLUDED.volume_24h,
			    last_updated = EXCLUDED.last_updated`,
		m.Symbol, m.BaseAsset, m.QuoteAsset, m.LastPrice.String(), m.Volume24h.String(), m.LastUpdated)
	if err != nil {
		return fmt.Errorf("error upserting market %s: %w", m.Symbol, err)
	}
	return nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, symbol string) (*models.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, `SELECT symbol, base_asset, quote_asset, last_price::text, volume_24h::text, last_updated
			  FROM markets WHERE symbol = $1`, symbol))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting market %s: %w", symbol, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]*models.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT symbol, base_asset, quote_asset, last_price::text, volume_24h::text, last_updated
			  FROM markets ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("error querying markets: %w", err)
	}
	defer rows.Close()

	markets := make([]*models.Market, 0)
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning market row: %w", err)
		}
		markets = append(markets, m)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating market rows: %w", rows.Err())
	}
	return markets, nil
}
