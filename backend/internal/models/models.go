package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes limit from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// Order represents a trading order
type Order struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	Symbol         string          `json:"symbol"` // e.g., "BTC/USDT"
	Side           Side            `json:"side"`
	Type           OrderType       `json:"type"`
	Price          decimal.Decimal `json:"price"`      // limit price, or the reference price used to lock a market buy
	Quantity       decimal.Decimal `json:"quantity"`   // amount of base asset
	TotalCost      decimal.Decimal `json:"total_cost"` // quote amount locked at placement (buy side only)
	Status         OrderStatus     `json:"status"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	FilledAt       *time.Time      `json:"filled_at,omitempty"`
}

// Trade is the immutable record of one settlement.
type Trade struct {
	ID             uuid.UUID       `json:"id"`
	OrderID        uuid.UUID       `json:"order_id"`
	UserID         uuid.UUID       `json:"user_id"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	Quantity       decimal.Decimal `json:"quantity"`
	TotalValue     decimal.Decimal `json:"total_value"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Market holds the last known price for a symbol. Only the price feed writes it.
type Market struct {
	Symbol      string          `json:"symbol"`
	BaseAsset   string          `json:"base_asset"`
	QuoteAsset  string          `json:"quote_asset"`
	LastPrice   decimal.Decimal `json:"last_price"`
	Volume24h   decimal.Decimal `json:"volume_24h"`
	LastUpdated time.Time       `json:"last_updated"`
}

// AssetBalance is one asset inside a portfolio.
type AssetBalance struct {
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"` // reserved by open orders
}

// Total returns available + locked.
func (b AssetBalance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// Portfolio maps asset symbols to balances for a single user.
type Portfolio struct {
	UserID    uuid.UUID               `json:"user_id"`
	Assets    map[string]AssetBalance `json:"assets"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// NewPortfolio returns an empty portfolio for userID.
func NewPortfolio(userID uuid.UUID, now time.Time) *Portfolio {
	return &Portfolio{
		UserID:    userID,
		Assets:    make(map[string]AssetBalance),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Asset returns the balance for asset, zero if the user never held it.
func (p *Portfolio) Asset(asset string) AssetBalance {
	if b, ok := p.Assets[asset]; ok {
		return b
	}
	return AssetBalance{Available: decimal.Zero, Locked: decimal.Zero}
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (p *Portfolio) Clone() *Portfolio {
	cp := *p
	cp.Assets = make(map[string]AssetBalance, len(p.Assets))
	for k, v := range p.Assets {
		cp.Assets[k] = v
	}
	return &cp
}

// Account names for the user balance record.
const (
	AccountPrimary = "primary"
	AccountSpot    = "spot"
	AccountFutures = "futures"
	AccountOptions = "options"
)

// AccountBalances is the per-user record of named cash balances.
type AccountBalances struct {
	UserID    uuid.UUID       `json:"user_id"`
	Primary   decimal.Decimal `json:"primary"`
	Spot      decimal.Decimal `json:"spot"`
	Futures   decimal.Decimal `json:"futures"`
	Options   decimal.Decimal `json:"options"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Get returns the named balance.
func (a *AccountBalances) Get(name string) (decimal.Decimal, bool) {
	switch name {
	case AccountPrimary:
		return a.Primary, true
	case AccountSpot:
		return a.Spot, true
	case AccountFutures:
		return a.Futures, true
	case AccountOptions:
		return a.Options, true
	}
	return decimal.Zero, false
}

// Set overwrites the named balance.
func (a *AccountBalances) Set(name string, v decimal.Decimal) bool {
	switch name {
	case AccountPrimary:
		a.Primary = v
	case AccountSpot:
		a.Spot = v
	case AccountFutures:
		a.Futures = v
	case AccountOptions:
		a.Options = v
	default:
		return false
	}
	return true
}
