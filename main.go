package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BatmanBruc/subpay-bot/internal/access"
	"github.com/BatmanBruc/subpay-bot/internal/btcpay"
	"github.com/BatmanBruc/subpay-bot/internal/config"
	"github.com/BatmanBruc/subpay-bot/internal/handlers"
	"github.com/BatmanBruc/subpay-bot/internal/idempotency"
	"github.com/BatmanBruc/subpay-bot/internal/logging"
	"github.com/BatmanBruc/subpay-bot/internal/metrics"
	"github.com/BatmanBruc/subpay-bot/internal/middleware"
	"github.com/BatmanBruc/subpay-bot/internal/notifier"
	"github.com/BatmanBruc/subpay-bot/internal/reconcile"
	"github.com/BatmanBruc/subpay-bot/internal/scheduler"
	"github.com/BatmanBruc/subpay-bot/internal/webhook"
	"github.com/BatmanBruc/subpay-bot/store"
	"github.com/BatmanBruc/subpay-bot/types"
	"github.com/getsentry/sentry-go"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const (
	envFile         = "config.env"
	shutdownTimeout = 10 * time.Second
	pollTimeout     = 50 * time.Second
)

var rootCmd = &cobra.Command{
	Use:     "subpay-bot",
	Short:   "Telegram subscription bot with BTCPay payments",
	Version: Version,
	RunE:    runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot and the BTCPay webhook server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("subpay-bot %s\n", Version)
		fmt.Printf("Built: %s\n", BuildTime)
		fmt.Printf("Commit: %s\n", GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "subpay-bot"})
	return cfg, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := store.Migrate(cmd.Context(), cfg.PostgresDSN); err != nil {
		log.Error().Err(err).Msg("Migration failed")
		return err
	}
	log.Info().Msg("Migrations applied")
	return nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
			Release:     Version,
		}); err != nil {
			log.Warn().Err(err).Msg("Sentry disabled")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	var rdb *store.RedisClient
	if cfg.RedisAddr != "" {
		rdb, err = store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, running with in-memory idempotency and no rate limits")
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	var storeOpts []store.Option
	var markers idempotency.MarkerStore
	var limiter middleware.RateLimiter
	if rdb != nil {
		storeOpts = append(storeOpts, store.WithSubscriptionCache(store.NewRedisSubscriptionCache(rdb, 0)))
		markers = store.NewRedisMarkerStore(rdb)
		limiter = store.NewRedisRateLimiter(rdb, cfg.RateLimitCommands, time.Minute)
	}

	pg, err := store.NewPostgresStore(ctx, cfg.PostgresDSN, storeOpts...)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to Postgres")
		return err
	}
	defer pg.Close()

	ledger := idempotency.New(markers, idempotency.Config{})
	ledger.OnModeChange(func(degraded bool) {
		if degraded {
			metrics.IdempotencyDegraded.Set(1)
		} else {
			metrics.IdempotencyDegraded.Set(0)
		}
	})

	sched := scheduler.NewScheduler(scheduler.Config{Workers: cfg.SchedulerWorkers})
	sched.Start()
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		sched.Stop(stopCtx)
	}()

	b, err := bot.New(cfg.TelegramToken, bot.WithHTTPClient(pollTimeout, &http.Client{Timeout: 2 * pollTimeout}))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create bot")
		return err
	}

	direct := notifier.New(notifier.NewTelegramSender(b), notifier.Config{})
	notify := notifier.NewAsync(direct, sched)

	var gateway types.PaymentGateway
	var gatewayHealth webhook.GatewayHealth
	if cfg.BTCPayConfigured() {
		client, err := btcpay.NewClient(btcpay.Config{
			BaseURL:     cfg.BTCPayURL,
			APIKey:      cfg.BTCPayAPIKey,
			StoreID:     cfg.BTCPayStoreID,
			BotUsername: cfg.BotUsername,
			Expiration:  cfg.InvoiceExpiration,
			Metadata:    map[string]string{"source": "telegram"},
		})
		if err != nil {
			log.Error().Err(err).Msg("Invalid BTCPay configuration")
			return err
		}
		gateway = client
		gatewayHealth = client
	} else {
		log.Warn().Msg("BTCPay not configured, invoice creation disabled")
	}

	engineOpts := []reconcile.Option{}
	if cfg.PremiumChannelID != 0 {
		granter := access.NewGranter(cfg.PremiumChannelID, access.NewTelegramInviter(b), direct, pg, sched)
		engineOpts = append(engineOpts, reconcile.WithAccessGranter(granter))
	}
	engine := reconcile.NewEngine(pg, ledger, notify, reconcile.Config{
		RequiredTotal: cfg.RequiredTotal(),
		DurationDays:  cfg.SubscriptionDays,
		AmountLimits:  cfg.AmountLimits(),
	}, engineOpts...)

	if !cfg.WebhookEnabled() {
		log.Warn().Msg("BTCPAY_WEBHOOK_SECRET not set, payment notifications will be rejected")
	}
	app := webhook.NewApp(webhook.NewHandler(engine, cfg.BTCPayWebhookSecret, ledger, pg, gatewayHealth))
	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Warn().Err(err).Msg("Webhook server shutdown failed")
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.ListenAddr()).Msg("Webhook server listening")
		if err := app.Listen(cfg.ListenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Webhook server stopped")
			cancel()
		}
	}()

	metrics.StartServer(ctx, cfg.MetricsAddr)

	h := handlers.NewHandlers(pg, pg, pg, gateway, handlers.Config{
		BasePrice:         cfg.SubscriptionPrice,
		FeePercent:        cfg.ProcessingFeePercent,
		DurationDays:      cfg.SubscriptionDays,
		InvoiceExpiration: cfg.InvoiceExpiration,
		SupportContact:    cfg.SupportContact,
	})
	mw := middleware.NewMiddlewares(pg, limiter)
	chain := middleware.Adapt(mw.Chain(h.MainHandler))

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil
	}, chain)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, chain)

	log.Info().Str("version", Version).Msg("Bot started")
	b.Start(ctx)
	log.Info().Msg("Shutting down")
	return nil
}
