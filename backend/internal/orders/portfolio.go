package orders

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperr"
	"github.com/user/papertrade/backend/internal/models"
)

// ValuationAsset is the currency portfolios are valued in.
const ValuationAsset = "USDT"

type AssetView struct {
	Asset     string           `json:"asset"`
	Available decimal.Decimal  `json:"available"`
	Locked    decimal.Decimal  `json:"locked"`
	Total     decimal.Decimal  `json:"total"`
	Price     *decimal.Decimal `json:"price,omitempty"` // nil when no market prices the asset
	Value     *decimal.Decimal `json:"value,omitempty"`
}

type PortfolioView struct {
	UserID     uuid.UUID       `json:"user_id"`
	Assets     []AssetView     `json:"assets"`
	TotalValue decimal.Decimal `json:"total_value"`
	Currency   string          `json:"currency"`
}

// GetPortfolio returns the caller's balances valued at current market prices.
// The portfolio is created with its starting allocation on first access.
func (s *Service) GetPortfolio(ctx context.Context, userID uuid.UUID) (*PortfolioView, error) {
	p, err := s.ledger.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	markets, err := s.store.ListMarkets(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "list markets")
	}
	return valuePortfolio(p, markets), nil
}

func valuePortfolio(p *models.Portfolio, markets []*models.Market) *PortfolioView {
	prices := map[string]decimal.Decimal{ValuationAsset: decimal.NewFromInt(1)}
	for _, m := range markets {
		if m.QuoteAsset == ValuationAsset && m.LastPrice.IsPositive() {
			prices[m.BaseAsset] = m.LastPrice
		}
	}

	view := &PortfolioView{
		UserID:     p.UserID,
		Assets:     make([]AssetView, 0, len(p.Assets)),
		TotalValue: decimal.Zero,
		Currency:   ValuationAsset,
	}
	for asset, bal := range p.Assets {
		av := AssetView{
			Asset:     asset,
			Available: bal.Available,
			Locked:    bal.Locked,
			Total:     bal.Total(),
		}
		if price, ok := prices[asset]; ok {
			value := av.Total.Mul(price)
			av.Price = &price
			av.Value = &value
			view.TotalValue = view.TotalValue.Add(value)
		}
		view.Assets = append(view.Assets, av)
	}
	sort.Slice(view.Assets, func(i, j int) bool { return view.Assets[i].Asset < view.Assets[j].Asset })
	return view
}
