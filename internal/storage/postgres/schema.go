package postgres

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS activity_records (
	user_addr               TEXT    NOT NULL,
	protocol                TEXT    NOT NULL,
	borrowed_total          BIGINT  NOT NULL DEFAULT 0,
	supplied_total          BIGINT  NOT NULL DEFAULT 0,
	repaid_total            BIGINT  NOT NULL DEFAULT 0,
	borrow_count            BIGINT  NOT NULL DEFAULT 0,
	supply_count            BIGINT  NOT NULL DEFAULT 0,
	repay_count             BIGINT  NOT NULL DEFAULT 0,
	latest_processed_height BIGINT  NOT NULL DEFAULT 0,
	first_activity_height   BIGINT  NOT NULL DEFAULT 0,
	liquidation_count       BIGINT  NOT NULL DEFAULT 0,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_addr, protocol)
);

CREATE TABLE IF NOT EXISTS aggregate_records (
	user_addr               TEXT    NOT NULL PRIMARY KEY,
	borrowed_total          BIGINT  NOT NULL DEFAULT 0,
	supplied_total          BIGINT  NOT NULL DEFAULT 0,
	repaid_total            BIGINT  NOT NULL DEFAULT 0,
	borrow_count            BIGINT  NOT NULL DEFAULT 0,
	supply_count            BIGINT  NOT NULL DEFAULT 0,
	repay_count             BIGINT  NOT NULL DEFAULT 0,
	latest_processed_height BIGINT  NOT NULL DEFAULT 0,
	first_activity_height   BIGINT  NOT NULL DEFAULT 0,
	liquidation_count       BIGINT  NOT NULL DEFAULT 0,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS observation_dedup (
	user_addr    TEXT   NOT NULL,
	protocol     TEXT   NOT NULL,
	role_token   TEXT   NOT NULL,
	block_height BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_addr, protocol, role_token, block_height)
);

CREATE TABLE IF NOT EXISTS balance_cache (
	user_addr  TEXT    NOT NULL,
	protocol   TEXT    NOT NULL,
	role_token TEXT    NOT NULL,
	underlying TEXT    NOT NULL,
	balance    NUMERIC NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_addr, protocol, role_token, underlying)
);
`

// Migrate applies the ledger schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
