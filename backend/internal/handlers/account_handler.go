package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/middleware"
)

type TransferRequest struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type AccountHandler struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

func NewAccountHandler(l *ledger.Ledger, logger *slog.Logger) *AccountHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountHandler{ledger: l, logger: logger}
}

// GetAccounts returns the caller's primary/spot/futures/options balances.
func (h *AccountHandler) GetAccounts(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	balances, err := h.ledger.GetAccountBalances(c.UserContext(), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(balances)
}

func (h *AccountHandler) Transfer(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	req := new(TransferRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "cannot parse request body")
	}
	balances, err := h.ledger.Transfer(c.UserContext(), userID, req.From, req.To, req.Amount)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(balances)
}
