// Package db opens the relational store selected by DB_DRIVER.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"translatemenu/internal/config"
)

// Open returns a pinged pool for cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "mysql":
		if cfg.DSN != "" {
			db, err = sql.Open("mysql", cfg.DSN)
		} else {
			db, err = OpenMySQL(cfg.MySQL())
		}
	case "postgres":
		db, err = OpenPostgres(cfg)
	case "sqlite":
		db, err = OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Driver != "sqlite" {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
		db.SetConnMaxLifetime(cfg.ConnLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}

func OpenPostgres(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(cfg.User, cfg.Password),
			Host:   net.JoinHostPort(cfg.Host, cfg.Port),
			Path:   "/" + cfg.Name,
		}
		q := u.Query()
		q.Set("sslmode", cfg.SSLMode)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}
	return sql.Open("pgx", dsn)
}

// OpenSQLite opens a single-connection pool; SQLite serialises writers anyway
// and ":memory:" databases are per connection.
func OpenSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
