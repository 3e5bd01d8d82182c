package db

import (
	"database/sql"
	"fmt"
	"secure-ledger/config"
	"secure-ledger/logger"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Connect opens the account store database selected by database.driver.
func Connect() (*sql.DB, error) {
	cfg := config.AppConfig.Database

	var driver, connStr, safeConnStr string
	switch cfg.Driver {
	case "postgres":
		driver = "postgres"
		connStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name)
		safeConnStr = fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Name)
	case "sqlite3":
		driver = "sqlite3"
		connStr = fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", cfg.Path)
		safeConnStr = connStr
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	logger.Log.WithField("connection", safeConnStr).Info("Attempting to connect to the database")

	db, err := sql.Open(driver, connStr)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to open database connection")
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if driver == "sqlite3" {
		// A single writer avoids SQLITE_BUSY between the store and the audit sink.
		db.SetMaxOpenConns(1)
	}

	if err = db.Ping(); err != nil {
		logger.Log.WithError(err).Error("Failed to ping database")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Log.Info("Database connection established successfully")
	return db, nil
}
