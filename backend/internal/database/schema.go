package database

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS portfolios (
    user_id UUID PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS portfolio_assets (
    user_id UUID NOT NULL REFERENCES portfolios(user_id) ON DELETE CASCADE,
    asset TEXT NOT NULL,
    available NUMERIC(38, 18) NOT NULL DEFAULT 0 CHECK (available >= 0),
    locked NUMERIC(38, 18) NOT NULL DEFAULT 0 CHECK (locked >= 0),
    PRIMARY KEY (user_id, asset)
);

CREATE TABLE IF NOT EXISTS account_balances (
    user_id UUID PRIMARY KEY,
    primary_balance NUMERIC(38, 18) NOT NULL DEFAULT 0 CHECK (primary_balance >= 0),
    spot_balance NUMERIC(38, 18) NOT NULL DEFAULT 0 CHECK (spot_balance >= 0),
    futures_balance NUMERIC(38, 18) NOT NULL DEFAULT 0 CHECK (futures_balance >= 0),
    options_balance NUMERIC(38, 18) NOT NULL DEFAULT 0 CHECK (options_balance >= 0),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS orders (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    type TEXT NOT NULL,
    price NUMERIC(38, 18) NOT NULL DEFAULT 0,
    quantity NUMERIC(38, 18) NOT NULL CHECK (quantity > 0),
    total_cost NUMERIC(38, 18) NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    filled_quantity NUMERIC(38, 18) NOT NULL DEFAULT 0 CHECK (filled_quantity <= quantity),
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    filled_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS orders_user_created_idx ON orders (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS orders_status_created_idx ON orders (status, created_at);

CREATE TABLE IF NOT EXISTS trades (
    id UUID PRIMARY KEY,
    order_id UUID NOT NULL REFERENCES orders(id),
    user_id UUID NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    execution_price NUMERIC(38, 18) NOT NULL,
    quantity NUMERIC(38, 18) NOT NULL,
    total_value NUMERIC(38, 18) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_user_created_idx ON trades (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS trades_order_idx ON trades (order_id);

CREATE TABLE IF NOT EXISTS markets (
    symbol TEXT PRIMARY KEY,
    base_asset TEXT NOT NULL,
    quote_asset TEXT NOT NULL,
    last_price NUMERIC(38, 18) NOT NULL,
    volume_24h NUMERIC(38, 18) NOT NULL DEFAULT 0,
    last_updated TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, q PgxQuerier) error {
	if _, err := q.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
