// Package websocket fans market price updates out to connected clients.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/user/papertrade/backend/internal/models"
)

const sendBuffer = 64

// PriceMessage is the frame pushed to subscribers.
type PriceMessage struct {
	Type    string           `json:"type"` // "snapshot" or "update"
	Markets []*models.Market `json:"markets"`
	SentAt  time.Time        `json:"sent_at"`
}

// Client is one subscriber. The hub closes Send when it drops the client.
type Client struct {
	Addr string
	Send chan []byte
}

func NewClient(addr string) *Client {
	return &Client{Addr: addr, Send: make(chan []byte, sendBuffer)}
}

// Hub manages WebSocket clients and broadcasts price updates to them.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	snapshot   func() []*models.Market
	logger     *slog.Logger
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub builds a hub. snapshot, when non-nil, supplies the prices sent to a client on connect.
func NewHub(snapshot func() []*models.Market, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		snapshot:   snapshot,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Register adds c. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run serves registrations and broadcasts every batch from updates until ctx is done.
func (h *Hub) Run(ctx context.Context, updates <-chan []*models.Market) {
	h.logger.Info("websocket hub started")
	defer func() {
		close(h.done)
		h.mu.Lock()
		for c := range h.clients {
			close(c.Send)
			delete(h.clients, c)
		}
		h.mu.Unlock()
		h.logger.Info("websocket hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("websocket client registered", "addr", c.Addr)
			if h.snapshot != nil {
				if msg, ok := h.encode("snapshot", h.snapshot()); ok {
					h.deliver(c, msg)
				}
			}

		case c := <-h.unregister:
			h.drop(c, "unregistered")

		case markets, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			msg, ok := h.encode("update", markets)
			if !ok {
				continue
			}
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				targets = append(targets, c)
			}
			h.mu.RUnlock()
			for _, c := range targets {
				h.deliver(c, msg)
			}
		}
	}
}

func (h *Hub) encode(kind string, markets []*models.Market) ([]byte, bool) {
	msg, err := json.Marshal(PriceMessage{Type: kind, Markets: markets, SentAt: time.Now().UTC()})
	if err != nil {
		h.logger.Error("encode price message", "error", err)
		return nil, false
	}
	return msg, true
}

// deliver never blocks; a client whose buffer is full is dropped.
func (h *Hub) deliver(c *Client, msg []byte) {
	select {
	case c.Send <- msg:
	default:
		h.drop(c, "send buffer full")
	}
}

func (h *Hub) drop(c *Client, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.Send)
		h.logger.Debug("websocket client dropped", "addr", c.Addr, "reason", reason)
	}
}
