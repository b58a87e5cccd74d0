package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/user/papertrade/backend/internal/middleware"
	"github.com/user/papertrade/backend/internal/orders"
)

type PortfolioHandler struct {
	svc    *orders.Service
	logger *slog.Logger
}

func NewPortfolioHandler(svc *orders.Service, logger *slog.Logger) *PortfolioHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortfolioHandler{svc: svc, logger: logger}
}

// GetPortfolio returns the caller's balances and their USDT value.
func (h *PortfolioHandler) GetPortfolio(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	view, err := h.svc.GetPortfolio(c.UserContext(), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(view)
}
