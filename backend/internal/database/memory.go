package database

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/user/papertrade/backend/internal/models"
)

// MemoryStore keeps every record in process memory. Transactions are serialized
// behind a single write lock and staged until commit.
type MemoryStore struct {
	mu         sync.RWMutex
	portfolios map[uuid.UUID]*models.Portfolio
	balances   map[uuid.UUID]*models.AccountBalances
	orders     map[uuid.UUID]*models.Order
	orderSeq   []uuid.UUID // insertion order
	trades     []*models.Trade
	markets    map[string]*models.Market
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios: make(map[uuid.UUID]*models.Portfolio),
		balances:   make(map[uuid.UUID]*models.AccountBalances),
		orders:     make(map[uuid.UUID]*models.Order),
		markets:    make(map[string]*models.Market),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:      s,
		portfolios: make(map[uuid.UUID]*models.Portfolio),
		balances:   make(map[uuid.UUID]*models.AccountBalances),
		orders:     make(map[uuid.UUID]*models.Order),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) GetPortfolio(ctx context.Context, userID uuid.UUID) (*models.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.portfolios[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) GetAccountBalances(ctx context.Context, userID uuid.UUID) (*models.AccountBalances, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, q OrderQuery) ([]*models.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.Order, 0)
	for i := len(s.orderSeq) - 1; i >= 0; i-- {
		o := s.orders[s.orderSeq[i]]
		if o.UserID != q.UserID || !hasStatus(q.Statuses, o.Status) {
			continue
		}
		matched = append(matched, cloneOrder(o))
	}
	return page(matched, q.Limit, q.Offset), len(matched), nil
}

func (s *MemoryStore) ListActiveOrders(ctx context.Context) ([]*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]*models.Order, 0)
	for _, id := range s.orderSeq {
		o := s.orders[id]
		if o.Status.IsActive() {
			active = append(active, cloneOrder(o))
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

func (s *MemoryStore) ListTrades(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Trade, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.Trade, 0)
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].UserID == userID {
			cp := *s.trades[i]
			matched = append(matched, &cp)
		}
	}
	return page(matched, limit, offset), len(matched), nil
}

func (s *MemoryStore) ListOrderTrades(ctx context.Context, orderID uuid.UUID) ([]*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.Trade, 0)
	for _, t := range s.trades {
		if t.OrderID == orderID {
			cp := *t
			matched = append(matched, &cp)
		}
	}
	return matched, nil
}

func (s *MemoryStore) UpsertMarket(ctx context.Context, m *models.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.markets[m.Symbol] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(ctx context.Context, symbol string) (*models.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[symbol]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(ctx context.Context) ([]*models.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]*models.Market, 0, len(s.markets))
	for _, m := range s.markets {
		cp := *m
		markets = append(markets, &cp)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].Symbol < markets[j].Symbol })
	return markets, nil
}

// memTx stages writes; reads fall through to the committed state. The store
// write lock is held for the whole transaction.
type memTx struct {
	store      *MemoryStore
	portfolios map[uuid.UUID]*models.Portfolio
	balances   map[uuid.UUID]*models.AccountBalances
	orders     map[uuid.UUID]*models.Order
	newOrders  []uuid.UUID
	trades     []*models.Trade
}

func (t *memTx) GetPortfolio(ctx context.Context, userID uuid.UUID) (*models.Portfolio, error) {
	if p, ok := t.portfolios[userID]; ok {
		return p.Clone(), nil
	}
	if p, ok := t.store.portfolios[userID]; ok {
		return p.Clone(), nil
	}
	return nil, ErrNotFound
}

func (t *memTx) SavePortfolio(ctx context.Context, p *models.Portfolio) error {
	t.portfolios[p.UserID] = p.Clone()
	return nil
}

func (t *memTx) GetAccountBalances(ctx context.Context, userID uuid.UUID) (*models.AccountBalances, error) {
	if b, ok := t.balances[userID]; ok {
		cp := *b
		return &cp, nil
	}
	if b, ok := t.store.balances[userID]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (t *memTx) SaveAccountBalances(ctx context.Context, b *models.AccountBalances) error {
	cp := *b
	t.balances[b.UserID] = &cp
	return nil
}

func (t *memTx) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	t.orders[order.ID] = cloneOrder(order)
	t.newOrders = append(t.newOrders, order.ID)
	return nil
}

func (t *memTx) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if o, ok := t.orders[orderID]; ok {
		return cloneOrder(o), nil
	}
	if o, ok := t.store.orders[orderID]; ok {
		return cloneOrder(o), nil
	}
	return nil, ErrNotFound
}

func (t *memTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	if _, err := t.GetOrder(ctx, order.ID); err != nil {
		return err
	}
	t.orders[order.ID] = cloneOrder(order)
	return nil
}

func (t *memTx) CreateTrade(ctx context.Context, trade *models.Trade) error {
	if trade.ID == uuid.Nil {
		trade.ID = uuid.New()
	}
	cp := *trade
	t.trades = append(t.trades, &cp)
	return nil
}

func (t *memTx) commit() {
	s := t.store
	for id, p := range t.portfolios {
		s.portfolios[id] = p
	}
	for id, b := range t.balances {
		s.balances[id] = b
	}
	for id, o := range t.orders {
		s.orders[id] = o
	}
	s.orderSeq = append(s.orderSeq, t.newOrders...)
	s.trades = append(s.trades, t.trades...)
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	if o.FilledAt != nil {
		at := *o.FilledAt
		cp.FilledAt = &at
	}
	return &cp
}
