package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/models"
)

const tradeColumns = `id, order_id, user_id, symbol, side, execution_price::text, quantity::text, total_value::text, created_at`

func collectTrades(rows pgx.Rows) ([]*models.Trade, error) {
	defer rows.Close()
	trades := make([]*models.Trade, 0)
	for rows.Next() {
		t := &models.Trade{}
		var price, quantity, total string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.UserID, &t.Symbol, &t.Side, &price, &quantity, &total, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning trade row: %w", err)
		}
		var err error
		if t.ExecutionPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse execution price: %w", err)
		}
		if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		if t.TotalValue, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("parse total value: %w", err)
		}
		trades = append(trades, t)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", rows.Err())
	}
	return trades, nil
}

func (t *pgTx) CreateTrade(ctx context.Context, trade *models.Trade) error {
	if trade.ID == uuid.Nil {
		trade.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO trades
			  (id, order_id, user_id, symbol, side, execution_price, quantity, total_value, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		trade.ID, trade.OrderID, trade.UserID, trade.Symbol, trade.Side,
		trade.ExecutionPrice.String(), trade.Quantity.String(), trade.TotalValue.String(), trade.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating trade for order %s: %w", trade.OrderID, err)
	}
	return nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Trade, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trades WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting trades for user %s: %w", userID, err)
	}

	lim := any(nil)
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `SELECT `+tradeColumns+` FROM trades WHERE user_id = $1
			  ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, userID, lim, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("error querying trades for user %s: %w", userID, err)
	}
	trades, err := collectTrades(rows)
	if err != nil {
		return nil, 0, err
	}
	return trades, total, nil
}

func (s *PostgresStore) ListOrderTrades(ctx context.Context, orderID uuid.UUID) ([]*models.Trade, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tradeColumns+` FROM trades WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("error querying trades for order %s: %w", orderID, err)
	}
	return collectTrades(rows)
}
