package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BatmanBruc/subpay-bot/internal/pricing"
	"github.com/BatmanBruc/subpay-bot/internal/validation"
	"github.com/shopspring/decimal"
)

type Config struct {
	TelegramToken  string
	BotUsername    string
	SupportContact string

	PostgresDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	BTCPayURL           string
	BTCPayAPIKey        string
	BTCPayStoreID       string
	BTCPayWebhookSecret string

	SubscriptionPrice    decimal.Decimal
	SubscriptionDays     int
	ProcessingFeePercent decimal.Decimal
	MinPrice             decimal.Decimal
	MaxPrice             decimal.Decimal
	InvoiceExpiration    time.Duration
	RateLimitCommands    int
	PremiumChannelID     int64
	SchedulerWorkers     int

	Port        int
	MetricsAddr string
	LogLevel    string
	LogFormat   string
	SentryDSN   string
	Environment string
}

// Load reads the configuration from the environment. Call LoadEnvFile first
// to pick up a local env file.
func Load() (*Config, error) {
	var errs []string
	intVar := func(key string, fallback int) int {
		n, err := envOrDefaultInt(key, fallback)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return n
	}
	decVar := func(key, fallback string) decimal.Decimal {
		d, err := envOrDefaultDecimal(key, fallback)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return d
	}

	cfg := &Config{
		TelegramToken:  strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		BotUsername:    strings.TrimPrefix(strings.TrimSpace(os.Getenv("BOT_USERNAME")), "@"),
		SupportContact: envOrDefault("SUPPORT_CONTACT", "@support"),

		PostgresDSN: strings.TrimSpace(os.Getenv("POSTGRES_DSN")),

		RedisAddr:     redisAddrFromEnv(),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       intVar("REDIS_DB", 0),
		RedisPrefix:   envOrDefault("REDIS_PREFIX", "subpay"),

		BTCPayURL:           strings.TrimRight(strings.TrimSpace(os.Getenv("BTCPAY_URL")), "/"),
		BTCPayAPIKey:        strings.TrimSpace(os.Getenv("BTCPAY_API_KEY")),
		BTCPayStoreID:       strings.TrimSpace(os.Getenv("BTCPAY_STORE_ID")),
		BTCPayWebhookSecret: strings.TrimSpace(os.Getenv("BTCPAY_WEBHOOK_SECRET")),

		SubscriptionPrice:    decVar("SUBSCRIPTION_PRICE", "10.00"),
		SubscriptionDays:     intVar("SUBSCRIPTION_DAYS", 30),
		ProcessingFeePercent: decVar("PROCESSING_FEE_PERCENT", "5.0"),
		MinPrice:             decVar("MIN_SUBSCRIPTION_PRICE", "1.00"),
		MaxPrice:             decVar("MAX_SUBSCRIPTION_PRICE", "10000.00"),
		InvoiceExpiration:    time.Duration(intVar("INVOICE_EXPIRATION_MINUTES", 15)) * time.Minute,
		RateLimitCommands:    intVar("RATE_LIMIT_COMMANDS", 10),
		SchedulerWorkers:     intVar("SCHEDULER_WORKERS", 3),

		Port:        intVar("PORT", 8080),
		MetricsAddr: envOrDefault("METRICS_ADDR", ":9091"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		LogFormat:   envOrDefault("LOG_FORMAT", "json"),
		SentryDSN:   strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		Environment: envOrDefault("APP_ENV", "production"),
	}
	if v := strings.TrimSpace(os.Getenv("PREMIUM_CHANNEL_ID")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("PREMIUM_CHANNEL_ID must be a valid integer: %v", err))
		}
		cfg.PremiumChannelID = id
	}
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = buildPostgresDSNFromEnv()
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("parse config: %s", strings.Join(errs, "; "))
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("missing required environment variable: TELEGRAM_BOT_TOKEN")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.SubscriptionDays <= 0 {
		return fmt.Errorf("SUBSCRIPTION_DAYS must be greater than 0, got %d", c.SubscriptionDays)
	}
	if !c.MinPrice.IsPositive() || c.MaxPrice.LessThan(c.MinPrice) {
		return fmt.Errorf("invalid price bounds [%s, %s]", c.MinPrice, c.MaxPrice)
	}
	if c.SubscriptionPrice.LessThan(c.MinPrice) || c.SubscriptionPrice.GreaterThan(c.MaxPrice) {
		return fmt.Errorf("SUBSCRIPTION_PRICE %s outside [%s, %s]", c.SubscriptionPrice, c.MinPrice, c.MaxPrice)
	}
	if c.ProcessingFeePercent.IsNegative() {
		return fmt.Errorf("PROCESSING_FEE_PERCENT must not be negative")
	}
	if total := c.RequiredTotal(); total.GreaterThan(c.MaxPrice) {
		return fmt.Errorf("price with fee %s exceeds MAX_SUBSCRIPTION_PRICE %s", total.StringFixed(2), c.MaxPrice)
	}
	if c.RateLimitCommands <= 0 {
		return fmt.Errorf("RATE_LIMIT_COMMANDS must be greater than 0, got %d", c.RateLimitCommands)
	}
	if c.BTCPayURL != "" {
		u, err := url.Parse(c.BTCPayURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("BTCPAY_URL must be an absolute http(s) URL")
		}
	}
	return nil
}

// WebhookEnabled is false when no signing secret is configured; every
// notification is then rejected.
func (c *Config) WebhookEnabled() bool {
	return c.BTCPayWebhookSecret != ""
}

// RequiredTotal is the subscription price including the processing fee.
func (c *Config) RequiredTotal() decimal.Decimal {
	return pricing.TotalPrice(c.SubscriptionPrice, c.ProcessingFeePercent)
}

// AmountLimits bounds the amount a payment record may carry.
func (c *Config) AmountLimits() validation.AmountLimits {
	return validation.AmountLimits{Min: c.MinPrice, Max: c.MaxPrice}
}

func (c *Config) BTCPayConfigured() bool {
	return c.BTCPayURL != "" && c.BTCPayAPIKey != "" && c.BTCPayStoreID != ""
}

func (c *Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}

func redisAddrFromEnv() string {
	if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
		return addr
	}
	host := strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if host == "" {
		return ""
	}
	return host + ":" + envOrDefault("REDIS_PORT", "6379")
}

func buildPostgresDSNFromEnv() string {
	host := envOrDefault("POSTGRES_HOST", "localhost")
	port := envOrDefault("POSTGRES_PORT", "5432")
	db := envOrDefault("POSTGRES_DB", "subpay")
	user := envOrDefault("POSTGRES_USER", "subpay")
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, os.Getenv("POSTGRES_PASSWORD")),
		Host:     host + ":" + port,
		Path:     "/" + db,
		RawQuery: "sslmode=" + envOrDefault("POSTGRES_SSLMODE", "disable"),
	}
	return u.String()
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fallback, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDecimal(key, fallback string) (decimal.Decimal, error) {
	v := envOrDefault(key, fallback)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.RequireFromString(fallback), fmt.Errorf("%s must be a valid number: %w", key, err)
	}
	return d, nil
}
