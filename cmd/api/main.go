package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"L402Paywall/internal/catalog"
	"L402Paywall/internal/config"
	internalhttp "L402Paywall/internal/http"
	"L402Paywall/internal/observability"
	"L402Paywall/internal/payments"
	"L402Paywall/internal/services"
	"L402Paywall/internal/store"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		observability.NewLogger("info", "json", nil).Error("config load failed", "err", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, nil)

	ctx := context.Background()
	st, closeStore, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Error("store open failed", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	cat, err := catalog.New(cfg.Offers)
	if err != nil {
		logger.Error("offer catalog invalid", "err", err)
		os.Exit(1)
	}

	providers := payments.EnabledProviders(cfg, logger)
	tokens := services.NewContextTokens(cfg.Paywall.ContextSecret)
	if cfg.Paywall.ContextSecret == "" {
		logger.Warn("paywall.context_secret is empty; payment context tokens are plain user ids")
	}

	h := internalhttp.NewHandler(internalhttp.Handler{
		Store:    st,
		Accounts: services.Accounts{Store: st, StartingCredits: cfg.Paywall.StartingCredits},
		Gate: &services.Gate{
			Store:             st,
			Catalog:           cat,
			Tokens:            tokens,
			PaymentRequestURL: cfg.PaymentRequestURL(),
			ChallengeTTL:      cfg.ChallengeTTL(),
		},
		Orchestrator: &services.Orchestrator{
			Store:           st,
			Catalog:         cat,
			Tokens:          tokens,
			Providers:       services.ProviderSet(providers...),
			IntentTTL:       cfg.IntentTTL(),
			ProviderTimeout: cfg.ProviderTimeout(),
			Retry:           services.DefaultRetry,
			Logger:          logger,
		},
		Reconciler: &services.Reconciler{Store: st, Retry: services.DefaultRetry, Logger: logger},
		Verifier:   payments.NewVerifier(providers...),
		Blocks: internalhttp.NewBlockstreamClient(cfg.Resource.BlockTipURL,
			time.Duration(cfg.Resource.TimeoutSeconds)*time.Second),
		CostPerRequest: cfg.Paywall.CostPerRequest,
		Logger:         logger,
	})
	srv := internalhttp.NewServer(h)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver, "providers", len(providers))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	logger.Info("api stopped")
}
