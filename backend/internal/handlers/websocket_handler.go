package handlers

import (
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	ws "github.com/user/papertrade/backend/internal/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// PriceWSEndpoint streams market snapshots and updates. The price feed is public.
func PriceWSEndpoint(hub *ws.Hub, logger *slog.Logger) func(*websocket.Conn) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *websocket.Conn) {
		client := ws.NewClient(c.RemoteAddr().String())
		if !hub.Register(client) {
			_ = c.Close()
			return
		}
		// fiber releases c back to its pool once this returns, so the writer must be gone by then
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			clientWritePump(c, client, logger)
		}()
		clientReadPump(c, hub, client, logger)
		<-writerDone
	}
}

// clientWritePump pumps messages from the hub to the websocket connection.
func clientWritePump(c *websocket.Conn, client *ws.Client, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("websocket write failed", "addr", client.Addr, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// clientReadPump only watches for disconnects and pongs; clients send nothing meaningful.
func clientReadPump(c *websocket.Conn, hub *ws.Hub, client *ws.Client, logger *slog.Logger) {
	defer hub.Unregister(client)

	c.SetReadLimit(512)
	_ = c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error { return c.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket client disconnected unexpectedly", "addr", client.Addr, "error", err)
			}
			return
		}
	}
}
