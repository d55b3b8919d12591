package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

type migration struct {
	name string
	up   string
}

var migrations = []migration{
	{
		name: "create_accounts",
		up: `
CREATE TABLE IF NOT EXISTS accounts (
    id           BIGSERIAL PRIMARY KEY,
    username     TEXT NOT NULL UNIQUE,
    balance      NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    status       TEXT NOT NULL DEFAULT 'active',
    api_key_hash TEXT NOT NULL UNIQUE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
	{
		name: "create_services",
		up: `
CREATE TABLE IF NOT EXISTS services (
    id                BIGSERIAL PRIMARY KEY,
    slug              TEXT NOT NULL UNIQUE,
    name              TEXT NOT NULL DEFAULT '',
    unit_cost         NUMERIC(14,2) NOT NULL CHECK (unit_cost >= 0),
    endpoint_template TEXT NOT NULL,
    url_mode          TEXT NOT NULL DEFAULT 'standard',
    success_field     TEXT NOT NULL DEFAULT '',
    enabled           BOOLEAN NOT NULL DEFAULT TRUE
);`,
	},
	{
		name: "create_transactions",
		up: `
CREATE TABLE IF NOT EXISTS transactions (
    reference       TEXT PRIMARY KEY,
    account_id      BIGINT NOT NULL REFERENCES accounts (id),
    service_id      BIGINT NOT NULL REFERENCES services (id),
    service_slug    TEXT NOT NULL,
    input_payload   TEXT NOT NULL DEFAULT '',
    biller_id       TEXT NOT NULL DEFAULT '',
    outcome         TEXT NOT NULL DEFAULT 'pending',
    reason          TEXT NOT NULL DEFAULT '',
    cost_charged    NUMERIC(14,2) NOT NULL DEFAULT 0,
    upstream_status INT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    settled_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions (account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_pending ON transactions (created_at) WHERE outcome = 'pending';`,
	},
	{
		name: "create_recharges",
		up: `
CREATE TABLE IF NOT EXISTS recharges (
    reference  TEXT PRIMARY KEY,
    account_id BIGINT NOT NULL REFERENCES accounts (id),
    amount     NUMERIC(14,2) NOT NULL CHECK (amount > 0),
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
}

// Migrate applies the schema. Every statement is idempotent so it runs on each boot.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.up); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		slog.Info("migration applied", "name", m.name)
	}
	return nil
}
