package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/safar/restaurant-orders/internal/config"
)

func NewConnection(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// TxOptionsFromConfig derives the workflow transaction options from config.
func TxOptionsFromConfig(cfg *config.DatabaseConfig) TxOptions {
	opts := DefaultTxOptions()
	if cfg.TxMaxRetries >= 0 {
		opts.MaxRetries = cfg.TxMaxRetries
	}
	if cfg.LockTimeout > 0 {
		opts.LockTimeout = cfg.LockTimeout
	}
	return opts
}
