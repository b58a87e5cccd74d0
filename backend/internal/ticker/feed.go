package ticker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperr"
	"github.com/user/papertrade/backend/internal/database"
	"github.com/user/papertrade/backend/internal/models"
	"golang.org/x/sync/errgroup"
)

// MarketStore is the subset of database.Store the feed needs.
type MarketStore interface {
	UpsertMarket(ctx context.Context, m *models.Market) error
	GetMarket(ctx context.Context, symbol string) (*models.Market, error)
}

type FeedConfig struct {
	Symbols         []string
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
}

// Feed is the only writer of market records.
type Feed struct {
	store   MarketStore
	source  PriceSource
	cfg     FeedConfig
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.RWMutex
	latest  map[string]*models.Market
	updates chan []*models.Market
}

func NewFeed(store MarketStore, source PriceSource, cfg FeedConfig, logger *slog.Logger, metrics *Metrics) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	return &Feed{
		store:   store,
		source:  source,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		latest:  make(map[string]*models.Market),
		updates: make(chan []*models.Market, 16),
	}
}

// Updates delivers each batch of refreshed markets. Batches are dropped when the reader falls behind.
func (f *Feed) Updates() <-chan []*models.Market {
	return f.updates
}

// Seed creates a market for every symbol in initial that does not exist yet.
// Existing markets keep their stored price.
func (f *Feed) Seed(ctx context.Context, initial map[string]decimal.Decimal) error {
	now := time.Now().UTC()
	for symbol, price := range initial {
		existing, err := f.store.GetMarket(ctx, symbol)
		if err == nil {
			f.remember(existing)
			continue
		}
		if !errors.Is(err, database.ErrNotFound) {
			return apperr.Internal(err, "load market %s", symbol)
		}

		base, quote, err := models.SplitSymbol(symbol)
		if err != nil {
			return apperr.Validation("%v", err)
		}
		m := &models.Market{
			Symbol:      symbol,
			BaseAsset:   base,
			QuoteAsset:  quote,
			LastPrice:   price,
			Volume24h:   decimal.Zero,
			LastUpdated: now,
		}
		if err := f.store.UpsertMarket(ctx, m); err != nil {
			return apperr.Internal(err, "seed market %s", symbol)
		}
		f.remember(m)
		f.logger.Info("market seeded", "symbol", symbol, "price", price.String())
	}
	return nil
}

// Refresh fetches quotes for every tracked symbol and stores them. Symbols the
// source could not price keep their previous lastPrice. It returns the number
// of markets updated; an error is returned only when nothing could be fetched.
func (f *Feed) Refresh(ctx context.Context) (int, error) {
	start := time.Now()

	quotes, err := f.fetch(ctx, f.cfg.Symbols)
	if err != nil {
		f.logger.Warn("batch price fetch failed, retrying per symbol", "error", err)
		quotes = f.fetchEach(ctx)
	}

	updated := make([]*models.Market, 0, len(quotes))
	for _, symbol := range f.cfg.Symbols {
		q, ok := quotes[symbol]
		if !ok {
			f.metrics.incSymbol(symbol, "stale")
			f.logger.Warn("no price for symbol, keeping last price", "symbol", symbol)
			continue
		}
		if !q.Price.IsPositive() {
			f.metrics.incSymbol(symbol, "invalid")
			f.logger.Warn("ignoring non-positive price", "symbol", symbol, "price", q.Price.String())
			continue
		}

		m, err := f.apply(ctx, symbol, q)
		if err != nil {
			f.metrics.incSymbol(symbol, "error")
			f.logger.Error("failed to store market", "symbol", symbol, "error", err)
			continue
		}
		f.metrics.incSymbol(symbol, "updated")
		updated = append(updated, m)
	}

	status := "success"
	switch {
	case len(updated) == 0 && len(f.cfg.Symbols) > 0:
		status = "failed"
	case len(updated) < len(f.cfg.Symbols):
		status = "partial"
	}
	f.metrics.observeRefresh(status, time.Since(start))

	if len(updated) > 0 {
		f.publish(updated)
	}
	if status == "failed" {
		if err == nil {
			err = errors.New("no prices returned")
		}
		return 0, apperr.Upstream(err, "price refresh returned no prices")
	}
	return len(updated), nil
}

func (f *Feed) fetch(ctx context.Context, symbols []string) (map[string]Quote, error) {
	fctx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()
	return f.source.FetchPrices(fctx, symbols)
}

// fetchEach asks for every symbol on its own so one failing symbol cannot hold back the rest.
func (f *Feed) fetchEach(ctx context.Context) map[string]Quote {
	var mu sync.Mutex
	quotes := make(map[string]Quote, len(f.cfg.Symbols))

	var g errgroup.Group
	g.SetLimit(4)
	for _, symbol := range f.cfg.Symbols {
		g.Go(func() error {
			got, err := f.fetch(ctx, []string{symbol})
			if err != nil {
				f.logger.Warn("price fetch failed", "symbol", symbol, "error", err)
				return nil
			}
			if q, ok := got[symbol]; ok {
				mu.Lock()
				quotes[symbol] = q
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return quotes
}

func (f *Feed) apply(ctx context.Context, symbol string, q Quote) (*models.Market, error) {
	base, quote, err := models.SplitSymbol(symbol)
	if err != nil {
		return nil, err
	}
	ts := q.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	m := &models.Market{
		Symbol:      symbol,
		BaseAsset:   base,
		QuoteAsset:  quote,
		LastPrice:   q.Price,
		Volume24h:   q.Volume24h,
		LastUpdated: ts,
	}
	if err := f.store.UpsertMarket(ctx, m); err != nil {
		return nil, err
	}
	f.remember(m)
	return m, nil
}

func (f *Feed) remember(m *models.Market) {
	cp := *m
	f.mu.Lock()
	f.latest[m.Symbol] = &cp
	f.mu.Unlock()
}

func (f *Feed) publish(markets []*models.Market) {
	select {
	case f.updates <- markets:
	default:
		f.logger.Warn("market update channel full, dropping update", "markets", len(markets))
	}
}

// Latest returns the last price the feed stored for symbol.
func (f *Feed) Latest(symbol string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.latest[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return m.LastPrice, true
}

// Snapshot returns a copy of every market the feed knows about.
func (f *Feed) Snapshot() []*models.Market {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*models.Market, 0, len(f.latest))
	for _, m := range f.latest {
		cp := *m
		out = append(out, &cp)
	}
	return out
}

// Run refreshes immediately and then on every interval until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	f.logger.Info("price feed started", "interval", f.cfg.RefreshInterval.String(), "symbols", f.cfg.Symbols)
	ticker := time.NewTicker(f.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		if _, err := f.Refresh(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("price refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			f.logger.Info("price feed stopped")
			return
		case <-ticker.C:
		}
	}
}
