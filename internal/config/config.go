package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"L402Paywall/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr      string `yaml:"addr" validate:"required"`
		PublicURL string `yaml:"public_url" validate:"required,url"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
		Format string `yaml:"format" validate:"omitempty,oneof=json text"`
	} `yaml:"log"`
	Store struct {
		Driver            string `yaml:"driver" validate:"oneof=redis postgres"`
		RedisURL          string `yaml:"redis_url" validate:"required_if=Driver redis"`
		DSN               string `yaml:"dsn" validate:"required_if=Driver postgres"`
		KeyPrefix         string `yaml:"key_prefix"`
		ProcessedTTLHours int    `yaml:"processed_ttl_hours" validate:"gte=0"`
	} `yaml:"store"`
	Paywall struct {
		CostPerRequest      int64  `yaml:"cost_per_request" validate:"gt=0"`
		StartingCredits     int64  `yaml:"starting_credits" validate:"gte=0"`
		ChallengeTTLMinutes int    `yaml:"challenge_ttl_minutes" validate:"gt=0"`
		ContextSecret       string `yaml:"context_secret"`
	} `yaml:"paywall"`
	Payments struct {
		IntentTTLMinutes       int `yaml:"intent_ttl_minutes" validate:"gt=0"`
		ProviderTimeoutSeconds int `yaml:"provider_timeout_seconds" validate:"gt=0"`
	} `yaml:"payments"`
	Lightning struct {
		Enabled                 bool            `yaml:"enabled"`
		LNbitsURL               string          `yaml:"lnbits_url" validate:"required_if=Enabled true"`
		AdminKey                string          `yaml:"admin_key" validate:"required_if=Enabled true"`
		InvoiceReadKey          string          `yaml:"invoice_read_key"`
		WebhookSecret           string          `yaml:"webhook_secret" validate:"required_if=Enabled true"`
		WebhookURL              string          `yaml:"webhook_url"`
		WebhookToleranceSeconds int             `yaml:"webhook_tolerance_seconds" validate:"gte=0"`
		Network                 string          `yaml:"network" validate:"omitempty,oneof=bc tb bcrt tbs sb"`
		SatsPerUnit             decimal.Decimal `yaml:"sats_per_unit"`
		ListenerEnabled         bool            `yaml:"listener_enabled"`
	} `yaml:"lightning"`
	Coinbase struct {
		Enabled       bool   `yaml:"enabled"`
		APIURL        string `yaml:"api_url" validate:"omitempty,url"`
		APIKey        string `yaml:"api_key" validate:"required_if=Enabled true"`
		WebhookSecret string `yaml:"webhook_secret" validate:"required_if=Enabled true"`
		DefaultAsset  string `yaml:"default_asset"`
		DefaultChain  string `yaml:"default_chain"`
	} `yaml:"coinbase"`
	Resource struct {
		BlockTipURL    string `yaml:"block_tip_url" validate:"required,url"`
		TimeoutSeconds int    `yaml:"timeout_seconds" validate:"gt=0"`
	} `yaml:"resource"`
	Worker struct {
		IntervalSeconds int64 `yaml:"interval_seconds" validate:"gt=0"`
		SweepBatch      int   `yaml:"sweep_batch" validate:"gt=0"`
	} `yaml:"worker"`
	Offers []models.Offer `yaml:"offers" validate:"min=1"`
}

func (c *Config) ChallengeTTL() time.Duration {
	return time.Duration(c.Paywall.ChallengeTTLMinutes) * time.Minute
}

func (c *Config) IntentTTL() time.Duration {
	return time.Duration(c.Payments.IntentTTLMinutes) * time.Minute
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Payments.ProviderTimeoutSeconds) * time.Second
}

func (c *Config) ProcessedTTL() time.Duration {
	return time.Duration(c.Store.ProcessedTTLHours) * time.Hour
}

func (c *Config) PaymentRequestURL() string {
	return strings.TrimRight(c.Server.PublicURL, "/") + "/l402/payment-request"
}

func Defaults() *Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Server.PublicURL = "http://localhost:8080"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Store.Driver = "redis"
	cfg.Store.RedisURL = "redis://localhost:6379"
	cfg.Store.KeyPrefix = "l402"
	cfg.Paywall.CostPerRequest = 1
	cfg.Paywall.StartingCredits = 1
	cfg.Paywall.ChallengeTTLMinutes = 30
	cfg.Payments.IntentTTLMinutes = 30
	cfg.Payments.ProviderTimeoutSeconds = 15
	cfg.Lightning.Network = "bc"
	cfg.Lightning.SatsPerUnit = decimal.NewFromInt(2_000_000)
	cfg.Lightning.WebhookToleranceSeconds = 300
	cfg.Coinbase.APIURL = "https://api.commerce.coinbase.com"
	cfg.Coinbase.DefaultAsset = "USDC"
	cfg.Coinbase.DefaultChain = "base"
	cfg.Resource.BlockTipURL = "https://blockstream.info/api/blocks/tip/hash"
	cfg.Resource.TimeoutSeconds = 10
	cfg.Worker.IntervalSeconds = 60
	cfg.Worker.SweepBatch = 500
	return &cfg
}

func DefaultOffers() []models.Offer {
	return []models.Offer{
		{ID: "offer1", Title: "1 Credit Package", Description: "Purchase 1 credit for API access", Credits: 1, Amount: decimal.RequireFromString("0.01"), Currency: "USD"},
		{ID: "offer2", Title: "5 Credits Package", Description: "Purchase 5 credits for API access", Credits: 5, Amount: decimal.RequireFromString("0.05"), Currency: "USD"},
	}
}

// Load reads .env, then the YAML file, then environment overrides. The file
// is optional unless a path was asked for explicitly.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	explicit := path != ""
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
		explicit = path != ""
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if len(cfg.Offers) == 0 {
		cfg.Offers = DefaultOffers()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Lightning.Enabled && !c.Lightning.SatsPerUnit.IsPositive() {
		return errors.New("invalid config: lightning.sats_per_unit must be positive")
	}
	if c.Lightning.WebhookURL != "" && c.pointsAtSelf(c.Lightning.WebhookURL, "/webhook/lightning") {
		return errors.New("invalid config: lightning.webhook_url must be the signing relay, LNbits callbacks are unsigned")
	}
	return nil
}

func (c *Config) pointsAtSelf(raw, path string) bool {
	target, err := url.Parse(raw)
	if err != nil {
		return false
	}
	self, err := url.Parse(c.Server.PublicURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(target.Host, self.Host) &&
		strings.TrimRight(target.Path, "/") == strings.TrimRight(self.Path, "/")+path
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PORT"); v != "" && os.Getenv("SERVER_ADDR") == "" {
		cfg.Server.Addr = os.Getenv("HOST") + ":" + v
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("CONTEXT_TOKEN_SECRET"); v != "" {
		cfg.Paywall.ContextSecret = v
	}
	if v := os.Getenv("STARTING_CREDITS"); v != "" {
		cfg.Paywall.StartingCredits = atoi64Or(cfg.Paywall.StartingCredits, v)
	}
	if v := os.Getenv("INTENT_TTL_MINUTES"); v != "" {
		cfg.Payments.IntentTTLMinutes = atoiOr(cfg.Payments.IntentTTLMinutes, v)
	}
	if v := os.Getenv("LIGHTNING_ENABLED"); v != "" {
		cfg.Lightning.Enabled = boolOr(cfg.Lightning.Enabled, v)
	}
	if v := os.Getenv("LNBITS_URL"); v != "" {
		cfg.Lightning.LNbitsURL = v
	}
	if v := os.Getenv("LNBITS_ADMIN_KEY"); v != "" {
		cfg.Lightning.AdminKey = v
	}
	if v := os.Getenv("LNBITS_INVOICE_READ_KEY"); v != "" {
		cfg.Lightning.InvoiceReadKey = v
	}
	if v := os.Getenv("LNBITS_WEBHOOK_KEY"); v != "" {
		cfg.Lightning.WebhookSecret = v
	}
	if v := os.Getenv("LNBITS_WEBHOOK_URL"); v != "" {
		cfg.Lightning.WebhookURL = v
	}
	if v := os.Getenv("LIGHTNING_NETWORK"); v != "" {
		cfg.Lightning.Network = v
	}
	if v := os.Getenv("SATS_PER_UNIT"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("SATS_PER_UNIT: %w", err)
		}
		cfg.Lightning.SatsPerUnit = d
	}
	if v := os.Getenv("COINBASE_ENABLED"); v != "" {
		cfg.Coinbase.Enabled = boolOr(cfg.Coinbase.Enabled, v)
	}
	if v := os.Getenv("COINBASE_API_KEY"); v != "" {
		cfg.Coinbase.APIKey = v
	}
	if v := os.Getenv("COINBASE_WEBHOOK_SECRET"); v != "" {
		cfg.Coinbase.WebhookSecret = v
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoi64Or(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("OFFERS_JSON"); v != "" {
		var offers []models.Offer
		if err := json.Unmarshal([]byte(v), &offers); err != nil {
			return fmt.Errorf("OFFERS_JSON: %w", err)
		}
		cfg.Offers = offers
	}
	return nil
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func boolOr(fallback bool, v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
