// Package config loads server settings from an optional .env file, an optional
// YAML file and PAPERTRADE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/user/papertrade/backend/internal/models"
)

const EnvPrefix = "PAPERTRADE"

type AppConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Env         string `mapstructure:"env"`
	LogLevel    string `mapstructure:"log_level"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Addr returns host:port for fiber's Listen.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type DBConfig struct {
	Driver string `mapstructure:"driver"` // memory or postgres
	URL    string `mapstructure:"url"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type FeedConfig struct {
	Source            string        `mapstructure:"source"` // simulated or coingecko
	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	CoinGeckoURL      string        `mapstructure:"coingecko_url"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	// Symbols are "BASE/QUOTE=initialPrice" entries.
	Symbols []string `mapstructure:"symbols"`
	// CoinIDs maps base assets to CoinGecko ids, merged over the built-in defaults.
	CoinIDs map[string]string `mapstructure:"coin_ids"`
}

// InitialPrices parses Symbols. Load has already validated them.
func (f FeedConfig) InitialPrices() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(f.Symbols))
	for _, entry := range f.Symbols {
		symbol, price, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("feed symbol %q: expected SYMBOL=PRICE", entry)
		}
		symbol = models.NormalizeSymbol(symbol)
		if _, _, err := models.SplitSymbol(symbol); err != nil {
			return nil, fmt.Errorf("feed symbol %q: %w", entry, err)
		}
		p, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil {
			return nil, fmt.Errorf("feed symbol %q: bad price: %w", entry, err)
		}
		if !p.IsPositive() {
			return nil, fmt.Errorf("feed symbol %q: price must be positive", entry)
		}
		out[symbol] = p
	}
	return out, nil
}

// SymbolList returns the configured symbols, sorted.
func (f FeedConfig) SymbolList() []string {
	prices, err := f.InitialPrices()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(prices))
	for s := range prices {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type EngineConfig struct {
	MatchInterval time.Duration `mapstructure:"match_interval"`
	Workers       int           `mapstructure:"workers"`
	// RefreshBeforeMatch makes every engine tick refresh prices first.
	RefreshBeforeMatch bool `mapstructure:"refresh_before_match"`
}

type PortfolioConfig struct {
	StartingAsset  string `mapstructure:"starting_asset"`
	StartingAmount string `mapstructure:"starting_amount"`
}

type AccountsConfig struct {
	StartingPrimary string `mapstructure:"starting_primary"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	TradesTopic string   `mapstructure:"trades_topic"`
}

type RateLimitConfig struct {
	Backend   string        `mapstructure:"backend"` // memory or redis
	RedisAddr string        `mapstructure:"redis_addr"`
	Limit     int           `mapstructure:"limit"`
	Window    time.Duration `mapstructure:"window"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	DB        DBConfig        `mapstructure:"db"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	Accounts  AccountsConfig  `mapstructure:"accounts"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// StartingAmount parses Portfolio.StartingAmount.
func (c *Config) StartingAmount() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Portfolio.StartingAmount)
	return d
}

// StartingPrimary parses Accounts.StartingPrimary.
func (c *Config) StartingPrimary() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Accounts.StartingPrimary)
	return d
}

// Load reads configuration. An empty path falls back to $PAPERTRADE_CONFIG, then config.yaml.
// Missing .env and YAML files are not errors.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// list values from the environment arrive as one comma separated string
	cfg.Feed.Symbols = envCSV(EnvPrefix+"_FEED_SYMBOLS", cfg.Feed.Symbols)
	cfg.Kafka.Brokers = envCSV(EnvPrefix+"_KAFKA_BROKERS", cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.service_name", "papertrade")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.metrics_path", "/metrics")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "5s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.idle_timeout", "60s")

	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.url", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("feed.source", "simulated")
	v.SetDefault("feed.refresh_interval", "30s")
	v.SetDefault("feed.fetch_timeout", "5s")
	v.SetDefault("feed.coingecko_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("feed.requests_per_minute", 30)
	v.SetDefault("feed.symbols", []string{"BTC/USDT=50000", "ETH/USDT=3000", "SOL/USDT=150"})

	v.SetDefault("engine.match_interval", "10s")
	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.refresh_before_match", false)

	v.SetDefault("portfolio.starting_asset", "USDT")
	v.SetDefault("portfolio.starting_amount", "10000")
	v.SetDefault("accounts.starting_primary", "0")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.trades_topic", "trades.executed")

	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.redis_addr", "localhost:6379")
	v.SetDefault("ratelimit.limit", 30)
	v.SetDefault("ratelimit.window", "1m")
}

// Validate checks the settings that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 {
		return fmt.Errorf("http.port must be positive")
	}
	switch c.DB.Driver {
	case "memory":
	case "postgres":
		if c.DB.URL == "" {
			return fmt.Errorf("db.url required for postgres driver")
		}
	default:
		return fmt.Errorf("db.driver must be memory or postgres, got %q", c.DB.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	if c.Feed.Source != "simulated" && c.Feed.Source != "coingecko" {
		return fmt.Errorf("feed.source must be simulated or coingecko, got %q", c.Feed.Source)
	}
	if c.Feed.RefreshInterval <= 0 || c.Feed.FetchTimeout <= 0 {
		return fmt.Errorf("feed intervals must be positive")
	}
	if c.Feed.RequestsPerMinute <= 0 {
		return fmt.Errorf("feed.requests_per_minute must be positive")
	}
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("feed.symbols must not be empty")
	}
	if _, err := c.Feed.InitialPrices(); err != nil {
		return err
	}

	if c.Engine.MatchInterval <= 0 {
		return fmt.Errorf("engine.match_interval must be positive")
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive")
	}

	if c.Portfolio.StartingAsset == "" {
		return fmt.Errorf("portfolio.starting_asset required")
	}
	if err := nonNegativeDecimal("portfolio.starting_amount", c.Portfolio.StartingAmount); err != nil {
		return err
	}
	if err := nonNegativeDecimal("accounts.starting_primary", c.Accounts.StartingPrimary); err != nil {
		return err
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.TradesTopic == "" {
		return fmt.Errorf("kafka.trades_topic required when brokers are set")
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.RedisAddr == "" {
			return fmt.Errorf("ratelimit.redis_addr required for redis backend")
		}
	default:
		return fmt.Errorf("ratelimit.backend must be memory or redis, got %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit limit and window must be positive")
	}
	return nil
}

func nonNegativeDecimal(key, raw string) error {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if d.IsNegative() {
		return fmt.Errorf("%s must not be negative", key)
	}
	return nil
}

func envCSV(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
