package ticker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/papertrade/backend/internal/apperr"
)

func TestCoinGeckoFetchPrices(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		gotQuery = r.URL.Query().Get("ids")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"bitcoin": {"usd": 64123.45, "usd_24h_vol": 31000000000.5, "last_updated_at": 1700000000},
			"ethereum": {"usd": 3400.1}
		}`))
	}))
	defer srv.Close()

	src := NewCoinGeckoSource(srv.URL, srv.Client(), nil, 600)
	quotes, err := src.FetchPrices(context.Background(), []string{"BTC/USDT", "ETH/USD", "SOL/USDT", "BTC/EUR", "XYZ/USDT"})
	require.NoError(t, err)

	assert.Equal(t, "bitcoin,ethereum,solana", gotQuery)
	require.Len(t, quotes, 2, "solana missing from response, EUR and unknown coins skipped")
	assert.True(t, quotes["BTC/USDT"].Price.Equal(d("64123.45")))
	assert.True(t, quotes["BTC/USDT"].Volume24h.Equal(d("31000000000.5")))
	assert.Equal(t, int64(1700000000), quotes["BTC/USDT"].Timestamp.Unix())
	assert.True(t, quotes["ETH/USD"].Price.Equal(d("3400.1")))
	assert.True(t, quotes["ETH/USD"].Volume24h.IsZero())
}

func TestCoinGeckoErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := NewCoinGeckoSource(srv.URL, srv.Client(), nil, 600)
	_, err := src.FetchPrices(context.Background(), []string{"BTC/USDT"})
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
}

func TestCoinGeckoNothingToFetch(t *testing.T) {
	src := NewCoinGeckoSource("http://127.0.0.1:0", nil, map[string]string{}, 1)
	quotes, err := src.FetchPrices(context.Background(), []string{"BTC/USDT"})
	require.NoError(t, err)
	assert.Empty(t, quotes)
}
