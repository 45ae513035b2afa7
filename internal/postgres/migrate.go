package postgres

import (
	"context"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// schema dijalankan berurutan, semua statement idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id          UUID PRIMARY KEY,
		sku         TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL,
		price       NUMERIC(12,2) NOT NULL CHECK (price >= 0),
		is_active   BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS stock (
		product_id  UUID PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
		quantity    INTEGER NOT NULL CHECK (quantity >= 0),
		version     BIGINT NOT NULL DEFAULT 1,
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS stock_intents (
		id          BIGSERIAL PRIMARY KEY,
		product_id  UUID NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		delta       INTEGER NOT NULL CHECK (delta <> 0),
		source      TEXT NOT NULL,
		ref         TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		applied_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS stock_intents_pending_idx ON stock_intents (product_id, id) WHERE applied_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS coupons (
		id                   UUID PRIMARY KEY,
		code                 TEXT NOT NULL UNIQUE,
		discount_type        TEXT NOT NULL CHECK (discount_type IN ('PERCENTAGE','FIXED_AMOUNT')),
		discount_value       NUMERIC(12,2) NOT NULL CHECK (discount_value >= 0),
		min_purchase_amount  NUMERIC(12,2) NOT NULL DEFAULT 0,
		valid_from           TIMESTAMPTZ NOT NULL,
		valid_until          TIMESTAMPTZ NOT NULL,
		total_limit          INTEGER NOT NULL DEFAULT 0,
		used_count           INTEGER NOT NULL DEFAULT 0,
		is_active            BOOLEAN NOT NULL DEFAULT TRUE,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (total_limit = 0 OR used_count <= total_limit)
	)`,
	`CREATE TABLE IF NOT EXISTS user_coupon_redemptions (
		user_id     TEXT NOT NULL,
		coupon_id   UUID NOT NULL REFERENCES coupons(id),
		order_ref   TEXT NOT NULL DEFAULT '',
		redeemed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, coupon_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id                     UUID PRIMARY KEY,
		external_id            TEXT UNIQUE,
		user_id                TEXT NOT NULL,
		status                 TEXT NOT NULL,
		subtotal               NUMERIC(12,2) NOT NULL,
		discount_amount        NUMERIC(12,2) NOT NULL DEFAULT 0,
		total_amount           NUMERIC(12,2) NOT NULL CHECK (total_amount >= 0),
		coupon_code            TEXT,
		coupon_discount_type   TEXT,
		coupon_discount_value  NUMERIC(12,2),
		payment_ref            TEXT,
		lock_expires_at        TIMESTAMPTZ NOT NULL,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS orders_pending_expiry_idx ON orders (lock_expires_at) WHERE status = 'PENDING'`,
	`CREATE INDEX IF NOT EXISTS orders_user_idx ON orders (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id                 BIGSERIAL PRIMARY KEY,
		order_id           UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id         UUID NOT NULL REFERENCES products(id),
		product_name       TEXT NOT NULL,
		quantity           INTEGER NOT NULL CHECK (quantity > 0),
		price_at_purchase  NUMERIC(12,2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS order_items_order_idx ON order_items (order_id)`,
}

func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migrate step %d", i)
		}
	}
	return nil
}
