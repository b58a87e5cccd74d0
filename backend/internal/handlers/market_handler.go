package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/user/papertrade/backend/internal/orders"
)

type MarketHandler struct {
	svc    *orders.Service
	logger *slog.Logger
}

func NewMarketHandler(svc *orders.Service, logger *slog.Logger) *MarketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketHandler{svc: svc, logger: logger}
}

func (h *MarketHandler) ListMarkets(c *fiber.Ctx) error {
	markets, err := h.svc.ListMarkets(c.UserContext())
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(markets)
}

// GetMarket accepts BTC-USDT in the path since "/" cannot appear in a segment.
func (h *MarketHandler) GetMarket(c *fiber.Ctx) error {
	m, err := h.svc.GetMarket(c.UserContext(), c.Params("symbol"))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(m)
}
