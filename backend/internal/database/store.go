package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/user/papertrade/backend/internal/models"
)

// ErrNotFound is returned by getters when the record does not exist.
var ErrNotFound = errors.New("record not found")

// Tx is the set of reads and writes allowed inside one atomic unit.
// Nothing written through a Tx is visible to others until the enclosing InTx returns nil.
type Tx interface {
	GetPortfolio(ctx context.Context, userID uuid.UUID) (*models.Portfolio, error)
	SavePortfolio(ctx context.Context, p *models.Portfolio) error

	GetAccountBalances(ctx context.Context, userID uuid.UUID) (*models.AccountBalances, error)
	SaveAccountBalances(ctx context.Context, b *models.AccountBalances) error

	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error

	CreateTrade(ctx context.Context, trade *models.Trade) error
}

// OrderQuery filters a user's orders. Results are newest first.
type OrderQuery struct {
	UserID   uuid.UUID
	Statuses []models.OrderStatus
	Limit    int // 0 means no limit
	Offset   int
}

// Store is the persistence collaborator used by the core.
type Store interface {
	// InTx runs fn atomically. A non-nil error from fn discards every write made through tx.
	// fn must only touch storage through tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetPortfolio(ctx context.Context, userID uuid.UUID) (*models.Portfolio, error)
	GetAccountBalances(ctx context.Context, userID uuid.UUID) (*models.AccountBalances, error)

	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, q OrderQuery) ([]*models.Order, int, error)
	// ListActiveOrders returns OPEN and PARTIALLY_FILLED orders of every user, oldest first.
	ListActiveOrders(ctx context.Context) ([]*models.Order, error)

	ListTrades(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Trade, int, error)
	ListOrderTrades(ctx context.Context, orderID uuid.UUID) ([]*models.Trade, error)

	UpsertMarket(ctx context.Context, m *models.Market) error
	GetMarket(ctx context.Context, symbol string) (*models.Market, error)
	ListMarkets(ctx context.Context) ([]*models.Market, error)

	Close()
}

func hasStatus(statuses []models.OrderStatus, s models.OrderStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
