package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// DB wraps sql.DB for the audit trail.
type DB struct {
	Client *sql.DB
	Driver string
}

// NewDB opens a pool for driver and pings it. The returned DB is usable for
// Close even when the ping fails.
func NewDB(ctx context.Context, driver, dsn string) (*DB, error) {
	switch driver {
	case "", "postgres", DriverPostgres:
		driver = DriverPostgres
	case "sqlite", DriverSQLite:
		driver = DriverSQLite
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// each connection to :memory: is its own database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}
	return &DB{Client: db, Driver: driver}, db.PingContext(ctx)
}

// Healthy pings the database.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
