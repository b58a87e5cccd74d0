package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/papertrade/backend/internal/models"
)

func market(symbol, price string) *models.Market {
	return &models.Market{Symbol: symbol, LastPrice: decimal.RequireFromString(price)}
}

func recv(t *testing.T, c *Client) PriceMessage {
	t.Helper()
	select {
	case raw, ok := <-c.Send:
		require.True(t, ok, "client channel closed")
		var msg PriceMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
	return PriceMessage{}
}

func TestHubSnapshotAndBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan []*models.Market)
	hub := NewHub(func() []*models.Market { return []*models.Market{market("BTC/USDT", "50000")} }, nil)
	go hub.Run(ctx, updates)

	a, b := NewClient("a"), NewClient("b")
	require.True(t, hub.Register(a))
	require.True(t, hub.Register(b))

	snap := recv(t, a)
	assert.Equal(t, "snapshot", snap.Type)
	require.Len(t, snap.Markets, 1)
	assert.Equal(t, "BTC/USDT", snap.Markets[0].Symbol)
	recv(t, b)

	updates <- []*models.Market{market("ETH/USDT", "3100")}
	for _, c := range []*Client{a, b} {
		msg := recv(t, c)
		assert.Equal(t, "update", msg.Type)
		assert.True(t, msg.Markets[0].LastPrice.Equal(decimal.NewFromInt(3100)))
	}

	hub.Unregister(a)
	_, open := <-a.Send
	assert.False(t, open)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHubDropsSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan []*models.Market)
	hub := NewHub(nil, nil)
	go hub.Run(ctx, updates)

	slow := NewClient("slow")
	require.True(t, hub.Register(slow))
	for i := 0; i <= sendBuffer; i++ {
		updates <- []*models.Market{market("BTC/USDT", "1")}
	}
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubStopClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx, nil)
		close(stopped)
	}()

	c := NewClient("c")
	require.True(t, hub.Register(c))
	cancel()
	<-stopped

	_, open := <-c.Send
	assert.False(t, open)
	assert.False(t, hub.Register(NewClient("late")))
}
