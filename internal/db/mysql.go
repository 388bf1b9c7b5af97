package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"translatemenu/internal/config"
)

func mysqlDSN(cfg config.MySQLConfig, dbName string) string {
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		dbName,
	)
}

func OpenMySQL(cfg config.MySQLConfig) (*sql.DB, error) {
	if err := ensureDatabaseExists(cfg); err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", mysqlDSN(cfg, cfg.DBName))
	if err != nil {
		return nil, err
	}
	return db, nil
}

func ensureDatabaseExists(cfg config.MySQLConfig) error {
	dbName := strings.TrimSpace(cfg.DBName)
	if dbName == "" {
		return fmt.Errorf("empty DB_NAME")
	}

	adminDB, err := sql.Open("mysql", mysqlDSN(cfg, ""))
	if err != nil {
		return err
	}
	defer adminDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := adminDB.PingContext(ctx); err != nil {
		return err
	}

	stmt := fmt.Sprintf(
		"CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci",
		strings.ReplaceAll(dbName, "`", "``"),
	)
	_, createErr := adminDB.ExecContext(ctx, stmt)
	if createErr == nil {
		return nil
	}

	// Without CREATE DATABASE privileges, an existing schema is still usable.
	db, err := sql.Open("mysql", mysqlDSN(cfg, dbName))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("create database %q failed: %v; fallback connection failed: %w", dbName, createErr, err)
	}
	return nil
}
