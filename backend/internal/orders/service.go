// Package orders implements the public trading operations: placing and
// cancelling orders and the read paths over orders, trades, portfolios and markets.
package orders

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
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// PlaceOrderRequest is the caller's order intent. Price may be zero for MARKET orders.
type PlaceOrderRequest struct {
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Type     string          `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderDetail is an order with the trades that filled it.
type OrderDetail struct {
	*models.Order
	Trades []*models.Trade `json:"trades"`
}

// Page selects a window of a newest-first listing.
type Page struct {
	Limit  int
	Offset int
}

type OrderPage struct {
	Items  []*models.Order `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type TradePage struct {
	Items  []*models.Trade `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type Service struct {
	store  database.Store
	ledger *ledger.Ledger
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store database.Store, l *ledger.Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		ledger: l,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type validatedOrder struct {
	symbol string
	side   models.Side
	typ    models.OrderType
	price  decimal.Decimal
	qty    decimal.Decimal
}

// Quantities and prices are stored as NUMERIC(38,18). Bounding both inputs keeps
// price*quantity inside that column without rounding.
const (
	MaxDecimalPlaces = 8
	maxIntegerDigits = 10
)

var maxMagnitude = decimal.New(1, maxIntegerDigits)

func checkAmount(field string, x decimal.Decimal) error {
	if !x.Equal(x.Truncate(MaxDecimalPlaces)) {
		return apperr.Validation("%s allows at most %d decimal places", field, MaxDecimalPlaces)
	}
	if x.Abs().GreaterThanOrEqual(maxMagnitude) {
		return apperr.Validation("%s must be below %s", field, maxMagnitude.String())
	}
	return nil
}

func validate(req PlaceOrderRequest) (validatedOrder, error) {
	v := validatedOrder{
		symbol: models.NormalizeSymbol(req.Symbol),
		side:   models.Side(strings.ToUpper(strings.TrimSpace(req.Side))),
		typ:    models.OrderType(strings.ToUpper(strings.TrimSpace(req.Type))),
		price:  req.Price,
		qty:    req.Quantity,
	}
	if _, _, err := models.SplitSymbol(v.symbol); err != nil {
		return v, apperr.Validation("%v", err)
	}
	if v.side != models.SideBuy && v.side != models.SideSell {
		return v, apperr.Validation("side must be BUY or SELL, got %q", req.Side)
	}
	if v.typ != models.OrderTypeLimit && v.typ != models.OrderTypeMarket {
		return v, apperr.Validation("type must be LIMIT or MARKET, got %q", req.Type)
	}
	if !v.qty.IsPositive() {
		return v, apperr.Validation("quantity must be positive")
	}
	if v.typ == models.OrderTypeLimit && !v.price.IsPositive() {
		return v, apperr.Validation("price must be positive for LIMIT orders")
	}
	if v.price.IsNegative() {
		return v, apperr.Validation("price must not be negative")
	}
	if err := checkAmount("quantity", v.qty); err != nil {
		return v, err
	}
	if err := checkAmount("price", v.price); err != nil {
		return v, err
	}
	return v, nil
}

// PlaceOrder validates the request, locks the funds the order needs and
// creates it OPEN. The lock and the order are written in one transaction.
//
// BUY locks price*quantity of the quote asset. A MARKET BUY without a price
// uses the market's current lastPrice as its reference. SELL locks quantity of the base asset.
func (s *Service) PlaceOrder(ctx context.Context, userID uuid.UUID, req PlaceOrderRequest) (*models.Order, error) {
	v, err := validate(req)
	if err != nil {
		return nil, err
	}

	market, err := s.GetMarket(ctx, v.symbol)
	if err != nil {
		return nil, err
	}

	price := v.price
	if v.typ == models.OrderTypeMarket && !price.IsPositive() && v.side == models.SideBuy {
		if !market.LastPrice.IsPositive() {
			return nil, apperr.Validation("no reference price for %s", v.symbol)
		}
		price = market.LastPrice
	}

	now := s.now()
	order := &models.Order{
		ID:             uuid.New(),
		UserID:         userID,
		Symbol:         v.symbol,
		Side:           v.side,
		Type:           v.typ,
		Price:          price,
		Quantity:       v.qty,
		TotalCost:      decimal.Zero,
		Status:         models.StatusOpen,
		FilledQuantity: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	lockAsset, lockAmount := market.BaseAsset, v.qty
	if v.side == models.SideBuy {
		order.TotalCost = price.Mul(v.qty)
		lockAsset, lockAmount = market.QuoteAsset, order.TotalCost
	}

	err = s.ledger.Atomically(ctx, userID, func(tx database.Tx) error {
		if err := s.ledger.LockFunds(ctx, tx, userID, lockAsset, lockAmount); err != nil {
			return err
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return apperr.Internal(err, "create order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order placed",
		"order_id", order.ID,
		"user_id", userID,
		"symbol", order.Symbol,
		"side", order.Side,
		"type", order.Type,
		"price", order.Price.String(),
		"quantity", order.Quantity.String(),
		"locked_asset", lockAsset,
		"locked_amount", lockAmount.String(),
	)
	return order, nil
}

// CancelOrder releases whatever the order still has locked and marks it CANCELLED.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	if _, err := s.ownedOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}

	var cancelled *models.Order
	err := s.ledger.Atomically(ctx, userID, func(tx database.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return apperr.NotFound("order %s not found", orderID)
			}
			return apperr.Internal(err, "load order")
		}
		if !order.Status.CanTransition(models.StatusCancelled) {
			return apperr.InvalidState("order %s is %s and cannot be cancelled", orderID, order.Status)
		}

		asset, err := order.LockAsset()
		if err != nil {
			return apperr.InvariantViolation("stored order %s has bad symbol: %v", orderID, err)
		}
		if release := order.RemainingLock(); release.IsPositive() {
			if err := s.ledger.UnlockFunds(ctx, tx, userID, asset, release); err != nil {
				return err
			}
		}

		order.Status = models.StatusCancelled
		order.UpdatedAt = s.now()
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return apperr.Internal(err, "update order")
		}
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order cancelled", "order_id", orderID, "user_id", userID, "symbol", cancelled.Symbol)
	return cancelled, nil
}

func (s *Service) ownedOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.NotFound("order %s not found", orderID)
		}
		return nil, apperr.Internal(err, "load order")
	}
	if order.UserID != userID {
		return nil, apperr.Forbidden("order %s belongs to another user", orderID)
	}
	return order, nil
}

// GetOrder returns one of the caller's orders with its trades.
func (s *Service) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*OrderDetail, error) {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	trades, err := s.store.ListOrderTrades(ctx, orderID)
	if err != nil {
		return nil, apperr.Internal(err, "list order trades")
	}
	return &OrderDetail{Order: order, Trades: trades}, nil
}

// ListOpenOrders returns the caller's OPEN and PARTIALLY_FILLED orders, newest first.
func (s *Service) ListOpenOrders(ctx context.Context, userID uuid.UUID) ([]*models.Order, error) {
	orders, _, err := s.store.ListOrders(ctx, database.OrderQuery{
		UserID:   userID,
		Statuses: []models.OrderStatus{models.StatusOpen, models.StatusPartiallyFilled},
	})
	if err != nil {
		return nil, apperr.Internal(err, "list open orders")
	}
	return orders, nil
}

// ListOrderHistory returns the caller's FILLED and CANCELLED orders, newest first.
func (s *Service) ListOrderHistory(ctx context.Context, userID uuid.UUID, p Page) (*OrderPage, error) {
	p, err := normalizePage(p)
	if err != nil {
		return nil, err
	}
	orders, total, err := s.store.ListOrders(ctx, database.OrderQuery{
		UserID:   userID,
		Statuses: []models.OrderStatus{models.StatusFilled, models.StatusCancelled},
		Limit:    p.Limit,
		Offset:   p.Offset,
	})
	if err != nil {
		return nil, apperr.Internal(err, "list order history")
	}
	return &OrderPage{Items: orders, Total: total, Limit: p.Limit, Offset: p.Offset}, nil
}

// ListTrades returns the caller's trades, newest first.
func (s *Service) ListTrades(ctx context.Context, userID uuid.UUID, p Page) (*TradePage, error) {
	p, err := normalizePage(p)
	if err != nil {
		return nil, err
	}
	trades, total, err := s.store.ListTrades(ctx, userID, p.Limit, p.Offset)
	if err != nil {
		return nil, apperr.Internal(err, "list trades")
	}
	return &TradePage{Items: trades, Total: total, Limit: p.Limit, Offset: p.Offset}, nil
}

// ListMarkets returns every market ordered by symbol.
func (s *Service) ListMarkets(ctx context.Context) ([]*models.Market, error) {
	markets, err := s.store.ListMarkets(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "list markets")
	}
	return markets, nil
}

func (s *Service) GetMarket(ctx context.Context, symbol string) (*models.Market, error) {
	symbol = models.NormalizeSymbol(symbol)
	m, err := s.store.GetMarket(ctx, symbol)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.NotFound("market %s not found", symbol)
		}
		return nil, apperr.Internal(err, "load market")
	}
	return m, nil
}

func normalizePage(p Page) (Page, error) {
	if p.Limit < 0 || p.Offset < 0 {
		return p, apperr.Validation("limit and offset must not be negative")
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p, nil
}
