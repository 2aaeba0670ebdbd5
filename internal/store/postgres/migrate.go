package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// migrations is the ordered, append-only schema history. Each entry runs
// exactly once per database; applied versions are tracked in
// schema_migrations rather than re-executed at every boot.
var migrations = []struct {
	version int
	stmts   []string
}{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS htx_stocks (
				htx TEXT PRIMARY KEY,
				logo_stock INTEGER NOT NULL DEFAULT 0 CHECK (logo_stock >= 0),
				card_stock INTEGER NOT NULL DEFAULT 0 CHECK (card_stock >= 0),
				tshirt_stock INTEGER NOT NULL DEFAULT 0 CHECK (tshirt_stock >= 0),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS pricing (
				id SMALLINT PRIMARY KEY CHECK (id = 1),
				logo_price BIGINT NOT NULL CHECK (logo_price >= 0),
				card_price BIGINT NOT NULL CHECK (card_price >= 0),
				tshirt_price BIGINT NOT NULL CHECK (tshirt_price >= 0),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS drivers (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				license_plate TEXT NOT NULL,
				phone TEXT NOT NULL,
				htx TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				CONSTRAINT drivers_identity_uc UNIQUE (name, license_plate, phone)
			)`,
			`CREATE TABLE IF NOT EXISTS bills (
				id TEXT PRIMARY KEY,
				htx TEXT NOT NULL,
				driver_id TEXT NOT NULL REFERENCES drivers(id),
				driver_name TEXT NOT NULL,
				license_plate TEXT NOT NULL,
				phone TEXT NOT NULL,
				details TEXT,
				logo_qty INTEGER NOT NULL DEFAULT 0 CHECK (logo_qty >= 0),
				card_qty INTEGER NOT NULL DEFAULT 0 CHECK (card_qty >= 0),
				tshirt_qty INTEGER NOT NULL DEFAULT 0 CHECK (tshirt_qty >= 0),
				total_amount BIGINT NOT NULL DEFAULT 0,
				payment_method TEXT,
				delivery_method TEXT,
				delivery_address TEXT,
				sale_username TEXT,
				sale_name TEXT,
				status TEXT NOT NULL DEFAULT 'issued',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS bills_created_at_idx ON bills (created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS bills_sale_username_idx ON bills (sale_username)`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS app_users (
				username TEXT PRIMARY KEY,
				password TEXT NOT NULL,
				display_name TEXT,
				role TEXT NOT NULL DEFAULT 'sale',
				qr_token TEXT UNIQUE,
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
		},
	},
}

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	err = db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM schema_migrations
	`).Scan(&current)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schema_migrations (version) VALUES ($1)
		`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Printf("[postgres] applied migration %d", m.version)
	}

	return nil
}
