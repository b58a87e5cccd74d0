package handlers

import (
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/middleware"
	"github.com/user/papertrade/backend/internal/orders"
	"github.com/user/papertrade/backend/internal/ratelimit"
	ws "github.com/user/papertrade/backend/internal/websocket"
)

// Deps is everything the HTTP surface needs. Hub and OrderLimiter are optional.
type Deps struct {
	Service      *orders.Service
	Ledger       *ledger.Ledger
	Tokens       middleware.TokenValidator
	Hub          *ws.Hub
	OrderLimiter ratelimit.Limiter
	Logger       *slog.Logger
}

// Register mounts the public and protected routes on app.
func Register(app *fiber.App, d Deps) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if d.Hub != nil {
		wsGroup := app.Group("/ws")
		wsGroup.Use("/", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				c.Locals("allowed", true)
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		wsGroup.Get("/prices", websocket.New(PriceWSEndpoint(d.Hub, logger)))
	}

	orderH := NewOrderHandler(d.Service, logger)
	portfolioH := NewPortfolioHandler(d.Service, logger)
	marketH := NewMarketHandler(d.Service, logger)
	accountH := NewAccountHandler(d.Ledger, logger)

	api := app.Group("/api")
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	api.Get("/markets", marketH.ListMarkets)
	api.Get("/markets/:symbol", marketH.GetMarket)

	protected := api.Group("", middleware.Protected(d.Tokens))

	placeChain := []fiber.Handler{orderH.CreateOrder}
	if d.OrderLimiter != nil {
		placeChain = append([]fiber.Handler{middleware.RateLimit(d.OrderLimiter, "orders", logger)}, placeChain...)
	}
	ordersGroup := protected.Group("/orders")
	ordersGroup.Post("/", placeChain...)
	ordersGroup.Get("/", orderH.ListOpenOrders)
	ordersGroup.Get("/history", orderH.ListOrderHistory)
	ordersGroup.Get("/:id", orderH.GetOrder)
	ordersGroup.Delete("/:id", orderH.CancelOrder)

	protected.Get("/trades", orderH.ListTrades)
	protected.Get("/portfolio", portfolioH.GetPortfolio)
	protected.Get("/accounts", accountH.GetAccounts)
	protected.Post("/accounts/transfer", accountH.Transfer)
}
