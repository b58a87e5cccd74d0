package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/models"
)

const orderColumns = `id, user_id, symbol, side, type, price::text, quantity::text, total_cost::text,
			  status, filled_quantity::text, created_at, updated_at, filled_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	var price, quantity, totalCost, filled string
	err := row.Scan(
		&o.ID, &o.UserID, &o.Symbol, &o.Side, &o.Type, &price, &quantity, &totalCost,
		&o.Status, &filled, &o.CreatedAt, &o.UpdatedAt, &o.FilledAt,
	)
	if err != nil {
		return nil, err
	}
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	if o.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	if o.TotalCost, err = decimal.NewFromString(totalCost); err != nil {
		return nil, fmt.Errorf("parse total cost: %w", err)
	}
	if o.FilledQuantity, err = decimal.NewFromString(filled); err != nil {
		return nil, fmt.Errorf("parse filled quantity: %w", err)
	}
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]*models.Order, error) {
	defer rows.Close()
	orders := make([]*models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning order row: %w", err)
		}
		orders = append(orders, o)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", rows.Err())
	}
	return orders, nil
}

// CreateOrder inserts a new order. Balance locking must already have happened in the same transaction.
func (t *pgTx) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO orders
			  (id, user_id, symbol, side, type, price, quantity, total_cost, status, filled_quantity, created_at, updated_at, filled_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		order.ID, order.UserID, order.Symbol, order.Side, order.Type,
		order.Price.String(), order.Quantity.String(), order.TotalCost.String(),
		order.Status, order.FilledQuantity.String(), order.CreatedAt, order.UpdatedAt, order.FilledAt,
	)
	if err != nil {
		return fmt.Errorf("error creating order for user %s: %w", order.UserID, err)
	}
	return nil
}

func getOrder(ctx context.Context, q PgxQuerier, orderID uuid.UUID, forUpdate bool) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting order by id %s: %w", orderID, err)
	}
	return o, nil
}

func (t *pgTx) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return getOrder(ctx, t.tx, orderID, true)
}

func (s *PostgresStore) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return getOrder(ctx, s.pool, orderID, false)
}

// UpdateOrder writes the mutable fields of an order.
func (t *pgTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	cmdTag, err := t.tx.Exec(ctx, `UPDATE orders
			  SET status = $1, filled_quantity = $2, updated_at = $3, filled_at = $4
			  WHERE id = $5`,
		order.Status, order.FilledQuantity.String(), order.UpdatedAt, order.FilledAt, order.ID)
	if err != nil {
		return fmt.Errorf("error updating order %s: %w", order.ID, err)
	}
	if cmdTag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, q OrderQuery) ([]*models.Order, int, error) {
	statuses := make([]string, 0, len(q.Statuses))
	for _, st := range q.Statuses {
		statuses = append(statuses, string(st))
	}

	where := `WHERE user_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))`

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders `+where, q.UserID, statuses).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting orders for user %s: %w", q.UserID, err)
	}

	limit := any(nil)
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders `+where+`
			  ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`,
		q.UserID, statuses, limit, q.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("error querying orders for user %s: %w", q.UserID, err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (s *PostgresStore) ListActiveOrders(ctx context.Context) ([]*models.Order, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders
			  WHERE status IN ('OPEN', 'PARTIALLY_FILLED')
			  ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("error querying active orders: %w", err)
	}
	return collectOrders(rows)
}
