package store

import (
	"context"
	"fmt"
)

var schema = map[Dialect][]string{
	MySQL: {
		`CREATE TABLE IF NOT EXISTS users (
			external_id VARCHAR(191) NOT NULL PRIMARY KEY,
			email VARCHAR(320) NOT NULL DEFAULT '',
			preferences MEDIUMTEXT NULL,
			is_pro TINYINT(1) NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			KEY idx_users_email (email)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS generations (
			id CHAR(36) NOT NULL PRIMARY KEY,
			user_id VARCHAR(191) NOT NULL,
			data MEDIUMTEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			KEY idx_generations_user (user_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	Postgres: {
		`CREATE TABLE IF NOT EXISTS users (
			external_id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			preferences TEXT NULL,
			is_pro BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users (LOWER(email))`,
		`CREATE TABLE IF NOT EXISTS generations (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_generations_user ON generations (user_id)`,
	},
	SQLite: {
		`CREATE TABLE IF NOT EXISTS users (
			external_id TEXT PRIMARY KEY,
			email TEXT NOT NULL DEFAULT '',
			preferences TEXT NULL,
			is_pro BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users (email)`,
		`CREATE TABLE IF NOT EXISTS generations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_generations_user ON generations (user_id)`,
	},
}

// Migrate creates missing tables. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	stmts, ok := schema[s.dialect]
	if !ok {
		return fmt.Errorf("no schema for dialect %q", s.dialect)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect, err)
		}
	}
	return nil
}
