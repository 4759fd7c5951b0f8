package payments

import (
	"log/slog"
	"time"

	"L402Paywall/internal/config"
	"L402Paywall/internal/pricing"
)

// EnabledProviders builds the adapters switched on in cfg. An adapter that
// fails to initialise is logged and left out, so the other method stays
// available.
func EnabledProviders(cfg *config.Config, logger *slog.Logger) []Provider {
	var out []Provider
	if cfg.Lightning.Enabled {
		p, err := NewLNbitsProvider(LNbitsConfig{
			BaseURL:       cfg.Lightning.LNbitsURL,
			AdminKey:      cfg.Lightning.AdminKey,
			WebhookSecret: cfg.Lightning.WebhookSecret,
			WebhookURL:    cfg.Lightning.WebhookURL,
			Network:       cfg.Lightning.Network,
			Tolerance:     time.Duration(cfg.Lightning.WebhookToleranceSeconds) * time.Second,
			Pricing:       pricing.Service{SatsPerUnit: cfg.Lightning.SatsPerUnit, Currency: "USD"},
		})
		if err != nil {
			logger.Error("lightning provider disabled", "err", err)
		} else {
			out = append(out, p)
		}
	}
	if cfg.Coinbase.Enabled {
		p, err := NewCoinbaseProvider(CoinbaseConfig{
			APIURL:        cfg.Coinbase.APIURL,
			APIKey:        cfg.Coinbase.APIKey,
			WebhookSecret: cfg.Coinbase.WebhookSecret,
			DefaultAsset:  cfg.Coinbase.DefaultAsset,
			DefaultChain:  cfg.Coinbase.DefaultChain,
		})
		if err != nil {
			logger.Error("coinbase provider disabled", "err", err)
		} else {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		logger.Warn("no payment providers enabled")
	}
	return out
}
