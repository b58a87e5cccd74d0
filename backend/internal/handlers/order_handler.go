package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/user/papertrade/backend/internal/middleware"
	"github.com/user/papertrade/backend/internal/orders"
)

type OrderHandler struct {
	svc    *orders.Service
	logger *slog.Logger
}

func NewOrderHandler(svc *orders.Service, logger *slog.Logger) *OrderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderHandler{svc: svc, logger: logger}
}

// CreateOrder places a LIMIT or MARKET order and locks its funds.
func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}

	req := new(orders.PlaceOrderRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "cannot parse request body")
	}

	order, err := h.svc.PlaceOrder(c.UserContext(), userID, *req)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}

// ListOpenOrders returns the caller's OPEN and PARTIALLY_FILLED orders.
func (h *OrderHandler) ListOpenOrders(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	list, err := h.svc.ListOpenOrders(c.UserContext(), userID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(list)
}

func (h *OrderHandler) ListOrderHistory(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	page, err := h.svc.ListOrderHistory(c.UserContext(), userID, pageFrom(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(page)
}

func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid order id format")
	}
	detail, err := h.svc.GetOrder(c.UserContext(), userID, orderID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(detail)
}

// CancelOrder cancels an active order and releases its remaining lock.
func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid order id format")
	}
	order, err := h.svc.CancelOrder(c.UserContext(), userID, orderID)
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(order)
}

func (h *OrderHandler) ListTrades(c *fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return unauthorized(c)
	}
	page, err := h.svc.ListTrades(c.UserContext(), userID, pageFrom(c))
	if err != nil {
		return respondError(c, h.logger, err)
	}
	return c.JSON(page)
}

func pageFrom(c *fiber.Ctx) orders.Page {
	return orders.Page{Limit: c.QueryInt("limit", 0), Offset: c.QueryInt("offset", 0)}
}
