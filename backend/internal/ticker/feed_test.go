package ticker

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/papertrade/backend/internal/apperr"
	"github.com/user/papertrade/backend/internal/database"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSeedKeepsExistingPrices(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	feed := NewFeed(store, nil, FeedConfig{Symbols: []string{"BTC/USDT", "ETH/USDT"}}, nil, nil)

	require.NoError(t, feed.Seed(ctx, map[string]decimal.Decimal{"BTC/USDT": d("60000")}))
	require.NoError(t, feed.Seed(ctx, map[string]decimal.Decimal{"BTC/USDT": d("1"), "ETH/USDT": d("3000")}))

	btc, err := store.GetMarket(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, btc.LastPrice.Equal(d("60000")))
	assert.Equal(t, "BTC", btc.BaseAsset)
	assert.Equal(t, "USDT", btc.QuoteAsset)

	price, ok := feed.Latest("ETH/USDT")
	require.True(t, ok)
	assert.True(t, price.Equal(d("3000")))
}

func TestRefreshPartialResponseLeavesOthersStale(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	reg := prometheus.NewRegistry()
	source := SourceFunc(func(ctx context.Context, symbols []string) (map[string]Quote, error) {
		return map[string]Quote{"BTC/USDT": {Price: d("49000"), Timestamp: time.Now()}}, nil
	})
	feed := NewFeed(store, source, FeedConfig{Symbols: []string{"BTC/USDT", "ETH/USDT"}}, nil, NewMetrics(reg))
	require.NoError(t, feed.Seed(ctx, map[string]decimal.Decimal{"BTC/USDT": d("50000"), "ETH/USDT": d("3000")}))

	n, err := feed.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	btc, err := store.GetMarket(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, btc.LastPrice.Equal(d("49000")))
	eth, err := store.GetMarket(ctx, "ETH/USDT")
	require.NoError(t, err)
	assert.True(t, eth.LastPrice.Equal(d("3000")))

	assert.Equal(t, 1.0, testutil.ToFloat64(feed.metrics.RefreshTotal.WithLabelValues("partial")))
	assert.Equal(t, 1.0, testutil.ToFloat64(feed.metrics.SymbolUpdates.WithLabelValues("ETH/USDT", "stale")))

	select {
	case batch := <-feed.Updates():
		require.Len(t, batch, 1)
		assert.Equal(t, "BTC/USDT", batch[0].Symbol)
	default:
		t.Fatal("expected a market update batch")
	}
}

func TestRefreshFallsBackToPerSymbolFetches(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	source := SourceFunc(func(ctx context.Context, symbols []string) (map[string]Quote, error) {
		if len(symbols) > 1 {
			return nil, errors.New("batch unsupported")
		}
		if symbols[0] == "ETH/USDT" {
			// hangs until the per-fetch timeout fires
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return map[string]Quote{symbols[0]: {Price: d("61000")}}, nil
	})
	feed := NewFeed(store, source, FeedConfig{
		Symbols:      []string{"BTC/USDT", "ETH/USDT"},
		FetchTimeout: 50 * time.Millisecond,
	}, nil, nil)
	require.NoError(t, feed.Seed(ctx, map[string]decimal.Decimal{"BTC/USDT": d("60000"), "ETH/USDT": d("3000")}))

	n, err := feed.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	btc, err := store.GetMarket(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, btc.LastPrice.Equal(d("61000")))
	eth, err := store.GetMarket(ctx, "ETH/USDT")
	require.NoError(t, err)
	assert.True(t, eth.LastPrice.Equal(d("3000")))
}

func TestRefreshTotalFailureIsUpstreamError(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	source := SourceFunc(func(ctx context.Context, symbols []string) (map[string]Quote, error) {
		return nil, errors.New("connection refused")
	})
	feed := NewFeed(store, source, FeedConfig{Symbols: []string{"BTC/USDT"}}, nil, nil)
	require.NoError(t, feed.Seed(ctx, map[string]decimal.Decimal{"BTC/USDT": d("60000")}))

	_, err := feed.Refresh(ctx)
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))

	btc, err := store.GetMarket(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, btc.LastPrice.Equal(d("60000")), "price must stay stale, never invented")
}

func TestRefreshIgnoresNonPositivePrices(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	source := SourceFunc(func(ctx context.Context, symbols []string) (map[string]Quote, error) {
		return map[string]Quote{"BTC/USDT": {Price: d("0")}}, nil
	})
	feed := NewFeed(store, source, FeedConfig{Symbols: []string{"BTC/USDT"}}, nil, nil)
	require.NoError(t, feed.Seed(ctx, map[string]decimal.Decimal{"BTC/USDT": d("60000")}))

	_, err := feed.Refresh(ctx)
	require.Error(t, err)
	btc, err := store.GetMarket(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, btc.LastPrice.Equal(d("60000")))
}

func TestRunStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	source := SourceFunc(func(ctx context.Context, symbols []string) (map[string]Quote, error) {
		calls.Add(1)
		return map[string]Quote{"BTC/USDT": {Price: d("1")}}, nil
	})
	feed := NewFeed(database.NewMemoryStore(), source, FeedConfig{
		Symbols:         []string{"BTC/USDT"},
		RefreshInterval: 10 * time.Millisecond,
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		feed.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("feed did not stop")
	}
}

func TestSimulatedSourceStaysWithinStep(t *testing.T) {
	src := NewSimulatedSource(map[string]decimal.Decimal{"BTC/USDT": d("60000")}, rand.New(rand.NewPCG(1, 2)))
	ctx := context.Background()

	prev := d("60000")
	for i := 0; i < 100; i++ {
		quotes, err := src.FetchPrices(ctx, []string{"BTC/USDT", "DOGE/USDT"})
		require.NoError(t, err)
		require.Len(t, quotes, 1, "unknown symbols are omitted")

		next := quotes["BTC/USDT"].Price
		require.True(t, next.IsPositive())
		move := next.Sub(prev).Abs().Div(prev)
		assert.True(t, move.LessThanOrEqual(d("0.0051")), "step %s too large", move)
		prev = next
	}
}
