// Package ticker keeps market prices fresh. A PriceSource supplies quotes and
// the Feed writes them to the market store.
package ticker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one price observation for a symbol.
type Quote struct {
	Price     decimal.Decimal `json:"price"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	Timestamp time.Time       `json:"timestamp"`
}

// PriceSource fetches quotes for the given symbols. Symbols it cannot price are
// omitted from the result; that is not an error.
type PriceSource interface {
	FetchPrices(ctx context.Context, symbols []string) (map[string]Quote, error)
}

// SourceFunc adapts a function to PriceSource.
type SourceFunc func(ctx context.Context, symbols []string) (map[string]Quote, error)

func (f SourceFunc) FetchPrices(ctx context.Context, symbols []string) (map[string]Quote, error) {
	return f(ctx, symbols)
}
