// Package engine periodically matches active orders against market prices and settles the fills.
//
// The model assumes unlimited counterparty liquidity: an eligible order always
// fills its full remaining quantity in one settlement at the market's lastPrice.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperr"
	"github.com/user/papertrade/backend/internal/database"
	"github.com/user/papertrade/backend/internal/events"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
	"golang.org/x/sync/errgroup"
)

// PriceRefresher is satisfied by *ticker.Feed.
type PriceRefresher interface {
	Refresh(ctx context.Context) (int, error)
}

type Config struct {
	Interval time.Duration
	// Workers bounds how many users are processed in parallel within a tick.
	Workers int
	// Refresher, when set, is refreshed at the start of every tick.
	Refresher PriceRefresher
}

// TickResult summarizes one sweep.
type TickResult struct {
	Evaluated int
	Executed  int
	Skipped   int
	Failed    int
}

type Engine struct {
	store     database.Store
	ledger    *ledger.Ledger
	publisher events.Publisher
	cfg       Config
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

func New(store database.Store, l *ledger.Ledger, publisher events.Publisher, cfg Config, logger *slog.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Engine{
		store:     store,
		ledger:    l,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Eligible reports whether order executes at lastPrice.
func Eligible(order *models.Order, lastPrice decimal.Decimal) bool {
	if !lastPrice.IsPositive() {
		return false
	}
	if order.Type == models.OrderTypeMarket {
		return true
	}
	switch order.Side {
	case models.SideBuy:
		return lastPrice.LessThanOrEqual(order.Price)
	case models.SideSell:
		return lastPrice.GreaterThanOrEqual(order.Price)
	}
	return false
}

// Tick runs one matching sweep. Orders are taken oldest first; each user's
// orders are handled sequentially in that order, different users in parallel.
// Per-order failures are logged and left for the next tick. Tick only returns
// an error when the sweep could not start.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	start := time.Now()

	if e.cfg.Refresher != nil {
		if _, err := e.cfg.Refresher.Refresh(ctx); err != nil {
			e.logger.Warn("price refresh before tick failed, matching on last known prices", "error", err)
		}
	}

	markets, err := e.store.ListMarkets(ctx)
	if err != nil {
		e.metrics.observeTick("error", time.Since(start))
		return TickResult{}, apperr.Internal(err, "list markets")
	}
	prices := make(map[string]decimal.Decimal, len(markets))
	for _, m := range markets {
		prices[m.Symbol] = m.LastPrice
	}

	orders, err := e.store.ListActiveOrders(ctx)
	if err != nil {
		e.metrics.observeTick("error", time.Since(start))
		return TickResult{}, apperr.Internal(err, "list active orders")
	}

	// group by user, keeping both the user order and each user's order sequence
	users := make([]uuid.UUID, 0)
	byUser := make(map[uuid.UUID][]*models.Order)
	for _, o := range orders {
		if _, seen := byUser[o.UserID]; !seen {
			users = append(users, o.UserID)
		}
		byUser[o.UserID] = append(byUser[o.UserID], o)
	}

	var evaluated, executed, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for _, userID := range users {
		userOrders := byUser[userID]
		g.Go(func() error {
			for _, o := range userOrders {
				if ctx.Err() != nil {
					return nil
				}
				price, ok := prices[o.Symbol]
				if !ok {
					skipped.Add(1)
					e.logger.Warn("no market for active order", "order_id", o.ID, "symbol", o.Symbol)
					continue
				}
				evaluated.Add(1)
				e.metrics.incEvaluated()
				if !Eligible(o, price) {
					continue
				}

				_, err := e.ExecuteOrder(ctx, o, price)
				switch {
				case err == nil:
					executed.Add(1)
				case apperr.IsKind(err, apperr.KindInvalidState), apperr.IsKind(err, apperr.KindNotFound):
					// cancelled or filled since the sweep started
					skipped.Add(1)
				default:
					failed.Add(1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	res := TickResult{
		Evaluated: int(evaluated.Load()),
		Executed:  int(executed.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}
	status := "success"
	if res.Failed > 0 {
		status = "partial"
	}
	e.metrics.observeTick(status, time.Since(start))
	if res.Executed > 0 || res.Failed > 0 {
		e.logger.Info("matching tick complete",
			"active", len(orders),
			"evaluated", res.Evaluated,
			"executed", res.Executed,
			"skipped", res.Skipped,
			"failed", res.Failed,
			"duration", time.Since(start).String(),
		)
	}
	return res, nil
}

// ExecuteOrder settles order at executionPrice. The order is re-read inside the
// transaction under the owner's lock, so it cannot interleave with a cancel.
// Settlement, the trade record and the FILLED transition commit together or not at all.
func (e *Engine) ExecuteOrder(ctx context.Context, order *models.Order, executionPrice decimal.Decimal) (*models.Trade, error) {
	if !executionPrice.IsPositive() {
		return nil, apperr.Validation("execution price must be positive, got %s", executionPrice)
	}

	var trade *models.Trade
	err := e.ledger.Atomically(ctx, order.UserID, func(tx database.Tx) error {
		current, err := tx.GetOrder(ctx, order.ID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return apperr.NotFound("order %s not found", order.ID)
			}
			return apperr.Internal(err, "load order")
		}
		if !current.Status.CanTransition(models.StatusFilled) {
			return apperr.InvalidState("order %s is %s", current.ID, current.Status)
		}

		base, quote, err := models.SplitSymbol(current.Symbol)
		if err != nil {
			return apperr.InvariantViolation("stored order %s has bad symbol: %v", current.ID, err)
		}

		qty := current.Remaining()
		if !qty.IsPositive() {
			return apperr.InvariantViolation("active order %s has nothing left to fill", current.ID)
		}
		totalValue := executionPrice.Mul(qty)

		switch current.Side {
		case models.SideBuy:
			// debit the amount locked at placement, never re-priced
			err = e.ledger.SettleFunds(ctx, tx, current.UserID, quote, current.RemainingLock(), base, qty)
		case models.SideSell:
			err = e.ledger.SettleFunds(ctx, tx, current.UserID, base, qty, quote, totalValue)
		default:
			err = apperr.InvariantViolation("stored order %s has bad side %q", current.ID, current.Side)
		}
		if err != nil {
			return err
		}

		now := e.now()
		trade = &models.Trade{
			ID:             uuid.New(),
			OrderID:        current.ID,
			UserID:         current.UserID,
			Symbol:         current.Symbol,
			Side:           current.Side,
			ExecutionPrice: executionPrice,
			Quantity:       qty,
			TotalValue:     totalValue,
			CreatedAt:      now,
		}
		if err := tx.CreateTrade(ctx, trade); err != nil {
			return apperr.Internal(err, "create trade")
		}

		current.FilledQuantity = current.Quantity
		current.Status = models.StatusFilled
		current.FilledAt = &now
		current.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, current); err != nil {
			return apperr.Internal(err, "update order")
		}
		return nil
	})
	if err != nil {
		e.logFailure(order, err)
		return nil, err
	}

	e.metrics.incSettled(strings.ToLower(string(order.Side)))
	e.logger.Info("order executed",
		"order_id", order.ID,
		"user_id", order.UserID,
		"symbol", order.Symbol,
		"side", order.Side,
		"price", executionPrice.String(),
		"quantity", trade.Quantity.String(),
		"total_value", trade.TotalValue.String(),
	)

	if err := e.publisher.PublishTrade(ctx, trade); err != nil {
		e.logger.Warn("trade event not published", "trade_id", trade.ID, "error", err)
	}
	return trade, nil
}

func (e *Engine) logFailure(order *models.Order, err error) {
	kind := apperr.KindOf(err)
	e.metrics.incFailure(strings.ToLower(string(kind)))

	attrs := []any{"order_id", order.ID, "user_id", order.UserID, "symbol", order.Symbol, "error", err}
	switch kind {
	case apperr.KindInvalidState, apperr.KindNotFound:
		e.logger.Debug("order no longer executable", attrs...)
	case apperr.KindInvariantViolation:
		e.logger.Error("settlement aborted on invariant violation", attrs...)
	default:
		e.logger.Warn("settlement failed, will retry next tick", attrs...)
	}
}

// Run ticks on every interval until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("matching engine started", "interval", e.cfg.Interval.String(), "workers", e.cfg.Workers)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("matching engine stopped")
			return
		case <-ticker.C:
			if _, err := e.Tick(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("matching tick failed", "error", err)
			}
		}
	}
}
