package main

import (
	"context"
	"flag"
	"os"

	"L402Paywall/internal/config"
	"L402Paywall/internal/db"
	"L402Paywall/internal/observability"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding *.sql migrations")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		observability.NewLogger("info", "json", nil).Error("config load failed", "err", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, nil)

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Store.DSN)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool, *dir, logger)
	if err != nil {
		logger.Error("migration failed", "err", err)
		pool.Close()
		os.Exit(1)
	}
	logger.Info("migrations complete", "applied", len(applied))
}
