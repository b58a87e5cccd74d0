package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusOpen.CanTransition(StatusFilled))
	assert.True(t, StatusOpen.CanTransition(StatusCancelled))
	assert.True(t, StatusOpen.CanTransition(StatusPartiallyFilled))
	assert.True(t, StatusPartiallyFilled.CanTransition(StatusCancelled))
	assert.True(t, StatusPartiallyFilled.CanTransition(StatusFilled))

	for _, terminal := range []OrderStatus{StatusFilled, StatusCancelled} {
		assert.True(t, terminal.IsTerminal())
		assert.False(t, terminal.IsActive())
		for _, next := range []OrderStatus{StatusOpen, StatusPartiallyFilled, StatusFilled, StatusCancelled} {
			assert.False(t, terminal.CanTransition(next), "%s -> %s", terminal, next)
		}
	}
	assert.False(t, StatusOpen.CanTransition(StatusOpen))
}

func TestSplitSymbol(t *testing.T) {
	base, quote, err := SplitSymbol("BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)

	for _, bad := range []string{"", "BTC", "BTC/", "/USDT", "A/B/C"} {
		_, _, err := SplitSymbol(bad)
		assert.Error(t, err, bad)
	}
	assert.Equal(t, "ETH/USDT", NormalizeSymbol(" eth-usdt "))
}

func TestRemainingLock(t *testing.T) {
	buy := &Order{
		Symbol:         "BTC/USDT",
		Side:           SideBuy,
		Quantity:       decimal.RequireFromString("2"),
		TotalCost:      decimal.RequireFromString("100"),
		FilledQuantity: decimal.Zero,
	}
	assert.True(t, buy.RemainingLock().Equal(decimal.NewFromInt(100)))
	buy.FilledQuantity = decimal.NewFromInt(1)
	assert.True(t, buy.RemainingLock().Equal(decimal.NewFromInt(50)))
	asset, err := buy.LockAsset()
	require.NoError(t, err)
	assert.Equal(t, "USDT", asset)

	sell := &Order{
		Symbol:         "BTC/USDT",
		Side:           SideSell,
		Quantity:       decimal.RequireFromString("0.5"),
		FilledQuantity: decimal.RequireFromString("0.2"),
	}
	assert.True(t, sell.RemainingLock().Equal(decimal.RequireFromString("0.3")))
	asset, err = sell.LockAsset()
	require.NoError(t, err)
	assert.Equal(t, "BTC", asset)
}
