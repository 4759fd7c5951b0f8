package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"L402Paywall/internal/config"
	"L402Paywall/internal/observability"
	"L402Paywall/internal/payments"
	"L402Paywall/internal/services"
	"L402Paywall/internal/store"
	"L402Paywall/internal/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		observability.NewLogger("info", "json", nil).Error("config load failed", "err", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Error("store open failed", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	var streamEndpoint string
	if cfg.Lightning.Enabled && cfg.Lightning.ListenerEnabled {
		streamEndpoint, err = payments.LNbitsStreamEndpoint(cfg.Lightning.LNbitsURL, cfg.Lightning.InvoiceReadKey)
		if err != nil {
			logger.Error("lnbits payment stream disabled", "err", err)
		}
	}

	w := &worker.Worker{
		Store:          st,
		Reconciler:     &services.Reconciler{Store: st, Retry: services.DefaultRetry, Logger: logger},
		Interval:       time.Duration(cfg.Worker.IntervalSeconds) * time.Second,
		SweepBatch:     cfg.Worker.SweepBatch,
		StreamEndpoint: streamEndpoint,
		Logger:         logger,
	}

	logger.Info("worker started", "interval_seconds", cfg.Worker.IntervalSeconds, "stream", streamEndpoint != "")
	w.Run(ctx)
	logger.Info("worker stopped")
}
