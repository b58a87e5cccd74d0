package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/user/papertrade/backend/internal/auth"
	"github.com/user/papertrade/backend/internal/config"
	"github.com/user/papertrade/backend/internal/database"
	"github.com/user/papertrade/backend/internal/engine"
	"github.com/user/papertrade/backend/internal/events"
	"github.com/user/papertrade/backend/internal/handlers"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/logging"
	"github.com/user/papertrade/backend/internal/middleware"
	"github.com/user/papertrade/backend/internal/orders"
	"github.com/user/papertrade/backend/internal/ratelimit"
	"github.com/user/papertrade/backend/internal/ticker"
	internalws "github.com/user/papertrade/backend/internal/websocket"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	l := ledger.New(store, nil, ledger.Config{
		StartingAsset:   cfg.Portfolio.StartingAsset,
		StartingAmount:  cfg.StartingAmount(),
		StartingPrimary: cfg.StartingPrimary(),
	}, logger)
	svc := orders.NewService(store, l, logger)

	initial, err := cfg.Feed.InitialPrices()
	if err != nil {
		return err
	}
	feed := ticker.NewFeed(store, priceSource(cfg, initial), ticker.FeedConfig{
		Symbols:         cfg.Feed.SymbolList(),
		RefreshInterval: cfg.Feed.RefreshInterval,
		FetchTimeout:    cfg.Feed.FetchTimeout,
	}, logger, ticker.NewMetrics(registry))
	if err := feed.Seed(ctx, initial); err != nil {
		return err
	}

	publisher, err := tradePublisher(cfg, logger, registry)
	if err != nil {
		return err
	}
	defer publisher.Close()

	engineCfg := engine.Config{Interval: cfg.Engine.MatchInterval, Workers: cfg.Engine.Workers}
	if cfg.Engine.RefreshBeforeMatch {
		engineCfg.Refresher = feed
	}
	matcher := engine.New(store, l, publisher, engineCfg, logger, engine.NewMetrics(registry))

	limiter, closeLimiter, err := orderLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	tokens, err := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	hub := internalws.NewHub(feed.Snapshot, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.ServiceName,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	})
	app.Use(recover.New())
	app.Use(middleware.Metrics(middleware.NewHTTPMetrics(registry)))
	app.Get(cfg.App.MetricsPath, adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	handlers.Register(app, handlers.Deps{
		Service:      svc,
		Ledger:       l,
		Tokens:       tokens,
		Hub:          hub,
		OrderLimiter: limiter,
		Logger:       logger,
	})

	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); feed.Run(bgCtx) }()
	go func() { defer wg.Done(); matcher.Run(bgCtx) }()
	go func() { defer wg.Done(); hub.Run(bgCtx, feed.Updates()) }()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.HTTP.Addr(), "db_driver", cfg.DB.Driver, "feed_source", cfg.Feed.Source)
		serveErr <- app.Listen(cfg.HTTP.Addr())
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			cancelBackground()
			wg.Wait()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	cancelBackground()
	wg.Wait()
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (database.Store, error) {
	if cfg.DB.Driver == "postgres" {
		pg, err := database.NewPostgresStore(ctx, cfg.DB.URL, logger)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	logger.Warn("using in-memory store, state is lost on restart")
	return database.NewMemoryStore(), nil
}

func priceSource(cfg *config.Config, initial map[string]decimal.Decimal) ticker.PriceSource {
	if cfg.Feed.Source != "coingecko" {
		return ticker.NewSimulatedSource(initial, nil)
	}
	ids := make(map[string]string, len(ticker.DefaultCoinIDs)+len(cfg.Feed.CoinIDs))
	for asset, id := range ticker.DefaultCoinIDs {
		ids[asset] = id
	}
	for asset, id := range cfg.Feed.CoinIDs {
		ids[strings.ToUpper(asset)] = id
	}
	client := &http.Client{Timeout: cfg.Feed.FetchTimeout}
	return ticker.NewCoinGeckoSource(cfg.Feed.CoinGeckoURL, client, ids, cfg.Feed.RequestsPerMinute)
}

func tradePublisher(cfg *config.Config, logger *slog.Logger, registry *prometheus.Registry) (events.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Info("no kafka brokers configured, trade events are not published")
		return events.NopPublisher{}, nil
	}
	p, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TradesTopic, logger, events.NewProducerMetrics(registry))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func orderLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ratelimit.Limiter, func(), error) {
	rl := cfg.RateLimit
	if rl.Backend != "redis" {
		return ratelimit.NewMemory(rl.Limit, rl.Window), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: rl.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}
	logger.Info("rate limiting via redis", "addr", rl.RedisAddr)
	return ratelimit.NewRedis(client, rl.Limit, rl.Window, ""), func() { _ = client.Close() }, nil
}
