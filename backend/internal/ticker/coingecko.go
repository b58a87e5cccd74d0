package ticker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperr"
	"github.com/user/papertrade/backend/internal/models"
	"golang.org/x/time/rate"
)

const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// DefaultCoinIDs maps base assets to CoinGecko coin ids.
var DefaultCoinIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"BNB":  "binancecoin",
	"XRP":  "ripple",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
	"DOT":  "polkadot",
	"LTC":  "litecoin",
	"AVAX": "avalanche-2",
}

// CoinGeckoSource prices USD and USDT quoted symbols from the public simple/price endpoint.
type CoinGeckoSource struct {
	baseURL string
	client  *http.Client
	ids     map[string]string
	limiter *rate.Limiter
}

// NewCoinGeckoSource builds a source throttled to requestsPerMinute. A nil ids map uses DefaultCoinIDs.
func NewCoinGeckoSource(baseURL string, client *http.Client, ids map[string]string, requestsPerMinute int) *CoinGeckoSource {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ids == nil {
		ids = DefaultCoinIDs
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	return &CoinGeckoSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		ids:     ids,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

type coinGeckoPrice struct {
	USD           json.Number `json:"usd"`
	USD24hVol     json.Number `json:"usd_24h_vol"`
	LastUpdatedAt int64       `json:"last_updated_at"`
}

func (s *CoinGeckoSource) FetchPrices(ctx context.Context, symbols []string) (map[string]Quote, error) {
	// coin id -> symbols priced by it
	wanted := make(map[string][]string)
	for _, symbol := range symbols {
		base, quote, err := models.SplitSymbol(symbol)
		if err != nil || (quote != "USD" && quote != "USDT") {
			continue
		}
		id, ok := s.ids[base]
		if !ok {
			continue
		}
		wanted[id] = append(wanted[id], symbol)
	}
	quotes := make(map[string]Quote, len(symbols))
	if len(wanted) == 0 {
		return quotes, nil
	}

	ids := make([]string, 0, len(wanted))
	for id := range wanted {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, apperr.Upstream(err, "coingecko throttle")
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_vol", "true")
	q.Set("include_last_updated_at", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, apperr.Internal(err, "build coingecko request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperr.Upstream(err, "coingecko request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Upstream(fmt.Errorf("status %d", resp.StatusCode), "coingecko returned an error")
	}

	var body map[string]coinGeckoPrice
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, apperr.Upstream(err, "decode coingecko response")
	}

	for id, p := range body {
		price, err := decimal.NewFromString(p.USD.String())
		if err != nil || !price.IsPositive() {
			continue
		}
		volume, err := decimal.NewFromString(p.USD24hVol.String())
		if err != nil {
			volume = decimal.Zero
		}
		ts := time.Now().UTC()
		if p.LastUpdatedAt > 0 {
			ts = time.Unix(p.LastUpdatedAt, 0).UTC()
		}
		for _, symbol := range wanted[id] {
			quotes[symbol] = Quote{Price: price, Volume24h: volume, Timestamp: ts}
		}
	}
	return quotes, nil
}
