package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/papertrade/backend/internal/apperr"
	"github.com/user/papertrade/backend/internal/database"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(t *testing.T, usdt string) (*Service, *ledger.Ledger, *database.MemoryStore) {
	t.Helper()
	store := database.NewMemoryStore()
	l := ledger.New(store, nil, ledger.Config{StartingAsset: "USDT", StartingAmount: d(usdt)}, nil)
	for symbol, price := range map[string]string{"BTC/USDT": "50000", "ETH/USDT": "3000"} {
		base, quote, err := models.SplitSymbol(symbol)
		require.NoError(t, err)
		require.NoError(t, store.UpsertMarket(context.Background(), &models.Market{
			Symbol: symbol, BaseAsset: base, QuoteAsset: quote, LastPrice: d(price), LastUpdated: time.Now(),
		}))
	}
	return NewService(store, l, nil), l, store
}

func balanceOf(t *testing.T, l *ledger.Ledger, user uuid.UUID, asset string) models.AssetBalance {
	t.Helper()
	p, err := l.GetPortfolio(context.Background(), user)
	require.NoError(t, err)
	return p.Asset(asset)
}

func assertBal(t *testing.T, got models.AssetBalance, available, locked string) {
	t.Helper()
	assert.Truef(t, got.Available.Equal(d(available)), "available: want %s got %s", available, got.Available)
	assert.Truef(t, got.Locked.Equal(d(locked)), "locked: want %s got %s", locked, got.Locked)
}

func buyReq(price, qty string) PlaceOrderRequest {
	return PlaceOrderRequest{Symbol: "BTC/USDT", Side: "BUY", Type: "LIMIT", Price: d(price), Quantity: d(qty)}
}

func TestPlaceBuyLocksQuote(t *testing.T) {
	svc, l, _ := newTestService(t, "1000")
	user := uuid.New()

	order, err := svc.PlaceOrder(context.Background(), user, buyReq("50000", "0.01"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusOpen, order.Status)
	assert.True(t, order.TotalCost.Equal(d("500")))
	assert.True(t, order.FilledQuantity.IsZero())
	assertBal(t, balanceOf(t, l, user, "USDT"), "500", "500")
}

func TestPlaceSellInsufficientCreatesNothing(t *testing.T) {
	svc, l, store := newTestService(t, "1000")
	ctx := context.Background()
	user := uuid.New()

	require.NoError(t, l.Atomically(ctx, user, func(tx database.Tx) error {
		p, err := l.EnsurePortfolio(ctx, tx, user)
		if err != nil {
			return err
		}
		p.Assets["BTC"] = models.AssetBalance{Available: d("0.5"), Locked: decimal.Zero}
		return tx.SavePortfolio(ctx, p)
	}))

	_, err := svc.PlaceOrder(ctx, user, PlaceOrderRequest{
		Symbol: "BTC/USDT", Side: "SELL", Type: "LIMIT", Price: d("60000"), Quantity: d("1"),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientFunds, apperr.KindOf(err))

	assertBal(t, balanceOf(t, l, user, "BTC"), "0.5", "0")
	placed, total, err := store.ListOrders(ctx, database.OrderQuery{UserID: user})
	require.NoError(t, err)
	assert.Empty(t, placed)
	assert.Zero(t, total)
}

func TestPlaceOrderValidation(t *testing.T) {
	svc, _, _ := newTestService(t, "1000")
	ctx := context.Background()

	cases := map[string]PlaceOrderRequest{
		"bad side":        {Symbol: "BTC/USDT", Side: "HOLD", Type: "LIMIT", Price: d("1"), Quantity: d("1")},
		"bad type":        {Symbol: "BTC/USDT", Side: "BUY", Type: "STOP", Price: d("1"), Quantity: d("1")},
		"zero quantity":   {Symbol: "BTC/USDT", Side: "BUY", Type: "LIMIT", Price: d("1"), Quantity: d("0")},
		"negative qty":    {Symbol: "BTC/USDT", Side: "BUY", Type: "LIMIT", Price: d("1"), Quantity: d("-1")},
		"limit no price":  {Symbol: "BTC/USDT", Side: "BUY", Type: "LIMIT", Quantity: d("1")},
		"negative price":  {Symbol: "BTC/USDT", Side: "SELL", Type: "MARKET", Price: d("-1"), Quantity: d("1")},
		"malformed pair":  {Symbol: "BTCUSDT", Side: "BUY", Type: "LIMIT", Price: d("1"), Quantity: d("1")},
		"empty request":   {},
		"qty too precise": {Symbol: "BTC/USDT", Side: "BUY", Type: "LIMIT", Price: d("1"), Quantity: d("0.000000001")},
		"qty tiny":        {Symbol: "BTC/USDT", Side: "BUY", Type: "LIMIT", Price: d("1"), Quantity: d("1e-20")},
		"price precise":   {Symbol: "BTC/USDT", Side: "BUY", Type: "LIMIT", Price: d("50000.123456789"), Quantity: d("1")},
		"qty too large":   {Symbol: "BTC/USDT", Side: "SELL", Type: "MARKET", Quantity: d("10000000000")},
		"price too large": {Symbol: "BTC/USDT", Side: "BUY", Type: "LIMIT", Price: d("1e12"), Quantity: d("1")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.PlaceOrder(ctx, uuid.New(), req)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestPlaceOrderAcceptsEightDecimalPlaces(t *testing.T) {
	svc, l, _ := newTestService(t, "1000")
	user := uuid.New()

	o, err := svc.PlaceOrder(context.Background(), user, PlaceOrderRequest{
		Symbol: "ETH/USDT", Side: "BUY", Type: "LIMIT", Price: d("2999.12345678"), Quantity: d("0.12345678000"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0.12345678", o.Quantity.String())
	assert.True(t, o.TotalCost.Equal(d("2999.12345678").Mul(d("0.12345678"))))
	assert.True(t, balanceOf(t, l, user, "USDT").Locked.Equal(o.TotalCost))
}

func TestPlaceOrderUnknownMarket(t *testing.T) {
	svc, _, _ := newTestService(t, "1000")
	_, err := svc.PlaceOrder(context.Background(), uuid.New(), PlaceOrderRequest{
		Symbol: "DOGE/USDT", Side: "BUY", Type: "LIMIT", Price: d("1"), Quantity: d("1"),
	})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestPlaceOrderNormalizesInput(t *testing.T) {
	svc, _, _ := newTestService(t, "1000")
	order, err := svc.PlaceOrder(context.Background(), uuid.New(), PlaceOrderRequest{
		Symbol: " btc-usdt ", Side: "buy", Type: "limit", Price: d("100"), Quantity: d("1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", order.Symbol)
	assert.Equal(t, models.SideBuy, order.Side)
	assert.Equal(t, models.OrderTypeLimit, order.Type)
}

func TestMarketBuyLocksAtLastPrice(t *testing.T) {
	svc, l, _ := newTestService(t, "10000")
	user := uuid.New()

	order, err := svc.PlaceOrder(context.Background(), user, PlaceOrderRequest{
		Symbol: "ETH/USDT", Side: "BUY", Type: "MARKET", Quantity: d("3"),
	})
	require.NoError(t, err)
	assert.True(t, order.Price.Equal(d("3000")))
	assertBal(t, balanceOf(t, l, user, "USDT"), "1000", "9000")
}

func TestCancelRestoresFundsAndIsTerminal(t *testing.T) {
	svc, l, _ := newTestService(t, "1000")
	ctx := context.Background()
	user := uuid.New()

	order, err := svc.PlaceOrder(ctx, user, buyReq("50000", "0.01"))
	require.NoError(t, err)

	cancelled, err := svc.CancelOrder(ctx, user, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assertBal(t, balanceOf(t, l, user, "USDT"), "1000", "0")

	_, err = svc.CancelOrder(ctx, user, order.ID)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	assertBal(t, balanceOf(t, l, user, "USDT"), "1000", "0")
}

func TestCancelPartiallyFilledReleasesRemainder(t *testing.T) {
	svc, l, _ := newTestService(t, "1000")
	ctx := context.Background()
	user := uuid.New()

	order, err := svc.PlaceOrder(ctx, user, buyReq("100", "4"))
	require.NoError(t, err)
	assertBal(t, balanceOf(t, l, user, "USDT"), "600", "400")

	// simulate a quarter fill: 100 USDT of the lock consumed
	require.NoError(t, l.Atomically(ctx, user, func(tx database.Tx) error {
		if err := l.SettleFunds(ctx, tx, user, "USDT", d("100"), "BTC", d("1")); err != nil {
			return err
		}
		o, err := tx.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		o.FilledQuantity = d("1")
		o.Status = models.StatusPartiallyFilled
		return tx.UpdateOrder(ctx, o)
	}))

	_, err = svc.CancelOrder(ctx, user, order.ID)
	require.NoError(t, err)
	assertBal(t, balanceOf(t, l, user, "USDT"), "900", "0")
	assertBal(t, balanceOf(t, l, user, "BTC"), "1", "0")
}

func TestCancelOwnershipAndMissing(t *testing.T) {
	svc, l, _ := newTestService(t, "1000")
	ctx := context.Background()
	owner, other := uuid.New(), uuid.New()

	order, err := svc.PlaceOrder(ctx, owner, buyReq("50000", "0.01"))
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, other, order.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assertBal(t, balanceOf(t, l, owner, "USDT"), "500", "500")

	_, err = svc.CancelOrder(ctx, owner, uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = svc.GetOrder(ctx, other, order.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestConcurrentPlacementNeverOverspends(t *testing.T) {
	svc, l, _ := newTestService(t, "1000")
	ctx := context.Background()
	user := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.PlaceOrder(ctx, user, PlaceOrderRequest{
				Symbol: "ETH/USDT", Side: "BUY", Type: "LIMIT", Price: d("100"), Quantity: d("1"),
			})
		}()
	}
	wg.Wait()

	open, err := svc.ListOpenOrders(ctx, user)
	require.NoError(t, err)
	assert.Len(t, open, 10)
	assertBal(t, balanceOf(t, l, user, "USDT"), "0", "1000")
}

func TestListingsAndPaging(t *testing.T) {
	svc, _, _ := newTestService(t, "100000")
	ctx := context.Background()
	user := uuid.New()

	var placed []*models.Order
	for i := 0; i < 5; i++ {
		o, err := svc.PlaceOrder(ctx, user, buyReq("100", "1"))
		require.NoError(t, err)
		placed = append(placed, o)
	}
	for _, o := range placed[:3] {
		_, err := svc.CancelOrder(ctx, user, o.ID)
		require.NoError(t, err)
	}

	open, err := svc.ListOpenOrders(ctx, user)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	hist, err := svc.ListOrderHistory(ctx, user, Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, hist.Total)
	assert.Len(t, hist.Items, 2)
	assert.Equal(t, 2, hist.Limit)

	hist, err = svc.ListOrderHistory(ctx, user, Page{Limit: 10000, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, MaxPageLimit, hist.Limit)
	assert.Len(t, hist.Items, 1)

	_, err = svc.ListOrderHistory(ctx, user, Page{Offset: -1})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	trades, err := svc.ListTrades(ctx, user, Page{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPageLimit, trades.Limit)
	assert.Zero(t, trades.Total)
}

func TestGetPortfolioValuation(t *testing.T) {
	svc, l, _ := newTestService(t, "1000")
	ctx := context.Background()
	user := uuid.New()

	require.NoError(t, l.Atomically(ctx, user, func(tx database.Tx) error {
		p, err := l.EnsurePortfolio(ctx, tx, user)
		if err != nil {
			return err
		}
		p.Assets["BTC"] = models.AssetBalance{Available: d("0.01"), Locked: d("0.01")}
		p.Assets["XYZ"] = models.AssetBalance{Available: d("5"), Locked: decimal.Zero}
		return tx.SavePortfolio(ctx, p)
	}))

	view, err := svc.GetPortfolio(ctx, user)
	require.NoError(t, err)
	require.Len(t, view.Assets, 3)
	assert.Equal(t, "BTC", view.Assets[0].Asset)
	assert.True(t, view.Assets[0].Total.Equal(d("0.02")))
	require.NotNil(t, view.Assets[0].Value)
	assert.True(t, view.Assets[0].Value.Equal(d("1000")))
	assert.Nil(t, view.Assets[2].Value, "XYZ has no market")
	assert.True(t, view.TotalValue.Equal(d("2000")))
	assert.Equal(t, "USDT", view.Currency)
}

func TestMarkets(t *testing.T) {
	svc, _, _ := newTestService(t, "0")
	ctx := context.Background()

	markets, err := svc.ListMarkets(ctx)
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "BTC/USDT", markets[0].Symbol)

	m, err := svc.GetMarket(ctx, "eth-usdt")
	require.NoError(t, err)
	assert.True(t, m.LastPrice.Equal(d("3000")))

	_, err = svc.GetMarket(ctx, "SOL/USDT")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
