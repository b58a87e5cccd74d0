package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusOpen:            {StatusPartiallyFilled, StatusFilled, StatusCancelled},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCancelled},
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// IsActive reports whether the order still holds locked funds.
func (s OrderStatus) IsActive() bool {
	return s == StatusOpen || s == StatusPartiallyFilled
}

// CanTransition reports whether moving from s to next is legal.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SplitSymbol splits "BTC/USDT" into base and quote assets.
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid symbol %q, expected BASE/QUOTE", symbol)
	}
	return parts[0], parts[1], nil
}

// NormalizeSymbol upper-cases and trims a symbol. "BTC-USDT" is accepted as an alias.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.ReplaceAll(s, "-", "/")
}

// Remaining returns quantity - filledQuantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// LockAsset returns the asset reserved by the order: quote for buys, base for sells.
func (o *Order) LockAsset() (string, error) {
	base, quote, err := SplitSymbol(o.Symbol)
	if err != nil {
		return "", err
	}
	if o.Side == SideBuy {
		return quote, nil
	}
	return base, nil
}

// RemainingLock is the amount still reserved for the unfilled part of the order.
// Buys hold a pro-rata share of TotalCost, sells hold the remaining base quantity.
func (o *Order) RemainingLock() decimal.Decimal {
	remaining := o.Remaining()
	if o.Side == SideSell {
		return remaining
	}
	if o.Quantity.IsZero() || remaining.Equal(o.Quantity) {
		return o.TotalCost
	}
	return o.TotalCost.Mul(remaining).Div(o.Quantity)
}
