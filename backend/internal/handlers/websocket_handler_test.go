package handlers

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/papertrade/backend/internal/models"
	ws "github.com/user/papertrade/backend/internal/websocket"
)

type wsServer struct {
	url     string
	hub     *ws.Hub
	updates chan []*models.Market
}

func startPriceServer(t *testing.T) *wsServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan []*models.Market)
	hub := ws.NewHub(func() []*models.Market {
		return []*models.Market{{Symbol: "BTC/USDT", LastPrice: decimal.NewFromInt(50000)}}
	}, slogDiscard())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx, updates)
	}()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws/prices", websocket.New(PriceWSEndpoint(hub, slogDiscard())))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()

	t.Cleanup(func() {
		_ = app.ShutdownWithTimeout(5 * time.Second)
		cancel()
		<-hubDone
	})
	return &wsServer{url: "ws://" + ln.Addr().String() + "/ws/prices", hub: hub, updates: updates}
}

func readPrices(t *testing.T, conn *fws.Conn) ws.PriceMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg ws.PriceMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestPriceStreamSurvivesDisconnects(t *testing.T) {
	srv := startPriceServer(t)

	// each disconnect hands the server-side conn back to fiber's pool
	for i := 0; i < 100; i++ {
		conn, _, err := fws.DefaultDialer.Dial(srv.url, nil)
		require.NoError(t, err)
		assert.Equal(t, "snapshot", readPrices(t, conn).Type)
		require.NoError(t, conn.Close())
	}
	assert.Eventually(t, func() bool { return srv.hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)

	conn, _, err := fws.DefaultDialer.Dial(srv.url, nil)
	require.NoError(t, err)
	defer conn.Close()
	readPrices(t, conn)
	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	srv.updates <- []*models.Market{{Symbol: "ETH/USDT", LastPrice: decimal.NewFromInt(3100)}}
	msg := readPrices(t, conn)
	assert.Equal(t, "update", msg.Type)
	require.Len(t, msg.Markets, 1)
	assert.Equal(t, "ETH/USDT", msg.Markets[0].Symbol)
}
