package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// MySQLDSN returns dsn with clientFoundRows enabled, so RowsAffected counts
// matched rows and a same-value patch is not read as a missing row.
func MySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory (
		id VARCHAR(64) PRIMARY KEY,
		shop_id VARCHAR(64) NOT NULL,
		product VARCHAR(128) NOT NULL,
		quantity DECIMAL(18,3) NOT NULL,
		unit VARCHAR(32) NOT NULL,
		batch_ids TEXT NOT NULL,
		updated_at VARCHAR(40) NOT NULL,
		UNIQUE KEY uq_inventory_shop_product (shop_id, product)
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id VARCHAR(64) PRIMARY KEY,
		composite_key VARCHAR(255) NOT NULL,
		shop_id VARCHAR(64) NOT NULL,
		product VARCHAR(128) NOT NULL,
		quantity DECIMAL(18,3) NOT NULL,
		unit VARCHAR(32) NOT NULL,
		purchase_date CHAR(10) NOT NULL,
		expiry_date CHAR(10) NULL,
		purchase_price DECIMAL(18,3) NULL,
		purchase_value DECIMAL(18,3) NOT NULL,
		linked_inventory_id VARCHAR(64) NOT NULL,
		created_at VARCHAR(40) NOT NULL,
		updated_at VARCHAR(40) NOT NULL,
		UNIQUE KEY uq_batches_composite_key (composite_key),
		KEY idx_batches_shop_product (shop_id, product)
	)`,
}

// SQLite keeps decimals as TEXT so values round-trip without float drift.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory (
		id TEXT PRIMARY KEY,
		shop_id TEXT NOT NULL,
		product TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit TEXT NOT NULL,
		batch_ids TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (shop_id, product)
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		composite_key TEXT NOT NULL UNIQUE,
		shop_id TEXT NOT NULL,
		product TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit TEXT NOT NULL,
		purchase_date TEXT NOT NULL,
		expiry_date TEXT,
		purchase_price TEXT,
		purchase_value TEXT NOT NULL,
		linked_inventory_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_shop_product ON batches (shop_id, product)`,
}

// Migrate creates the tables for driver if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	var stmts []string
	switch driver {
	case DriverMySQL:
		stmts = mysqlSchema
	case DriverSQLite:
		stmts = sqliteSchema
	default:
		return fmt.Errorf("migrate: unsupported driver %q", driver)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
