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

	"github.com/contrax-app/contrax/backend/internal/config"
	"github.com/contrax-app/contrax/backend/internal/contracts"
	"github.com/contrax-app/contrax/backend/internal/database"
	"github.com/contrax-app/contrax/backend/internal/logging"
	"github.com/contrax-app/contrax/backend/internal/metrics"
	"github.com/contrax-app/contrax/backend/internal/payments"
	"github.com/contrax-app/contrax/backend/internal/plans"
	"github.com/contrax-app/contrax/backend/internal/realtime"
	"github.com/contrax-app/contrax/backend/internal/render"
	"github.com/contrax-app/contrax/backend/internal/server"
	mpconfig "github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preference"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "contrax-api",
		Short: "Contrax contract management backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations()
		},
	})

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for webhook dedupe (empty keeps it in process)")
	cmd.PersistentFlags().Duration("providers-timeout", defaults.GetDuration("providers.timeout"), "Timeout for payment provider calls")
	cmd.PersistentFlags().String("quota-timezone", defaults.GetString("quota.timezone"), "Time zone used for monthly quota periods")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "providers.timeout", "providers-timeout")
	bindFlag(cmd, "quota.timezone", "quota-timezone")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runMigrations() error {
	databasePath := viper.GetString("database.path")
	logger, err := logging.NewLogger(viper.GetString("log.level"), viper.GetString("log.format"))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(databasePath, logger)
	if err != nil {
		return err
	}
	return database.Close(db)
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer database.Close(db) //nolint:errcheck

	deduper, closeDeduper, err := buildDeduper(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDeduper()

	appMetrics := metrics.NewWithRuntimeCollectors()
	dispatcher := realtime.NewDispatcher()

	ledger, err := plans.NewLedger(plans.LedgerConfig{
		Database: db,
		Clock:    time.Now,
		Location: appConfig.QuotaLocation,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	contractService, err := contracts.NewService(contracts.ServiceConfig{
		Database:   db,
		Ledger:     ledger,
		Clock:      time.Now,
		IDProvider: contracts.NewUUIDProvider(),
		Publisher:  dispatcher,
		Metrics:    appMetrics,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	stripeGateway, mercadoPagoGateway, err := buildGateways(appConfig)
	if err != nil {
		return err
	}

	initiator, err := payments.NewInitiator(payments.InitiatorConfig{
		Stripe:      stripeGateway,
		MercadoPago: mercadoPagoGateway,
		Metrics:     appMetrics,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	reconciler, err := payments.NewReconciler(payments.ReconcilerConfig{
		Ledger:      ledger,
		Stripe:      stripeGateway,
		MercadoPago: mercadoPagoGateway,
		Deduper:     deduper,
		Publisher:   dispatcher,
		Metrics:     appMetrics,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Contracts:          contractService,
		Profiles:           ledger,
		Checkout:           initiator,
		Reconciler:         reconciler,
		Renderer:           render.NewRenderer(render.Config{Compress: appConfig.RenderCompress}),
		Realtime:           dispatcher,
		Metrics:            appMetrics,
		HealthCheck:        pingDatabase(db),
		CORSAllowedOrigins: appConfig.CORSAllowedOrigins,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildGateways(appConfig config.AppConfig) (*payments.StripeGateway, *payments.MercadoPagoGateway, error) {
	providerClient := &http.Client{Timeout: appConfig.ProviderTimeout}
	stripeBackend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: providerClient,
	})
	stripeGateway, err := payments.NewStripeGateway(payments.StripeConfig{
		Sessions:      &session.Client{B: stripeBackend, Key: appConfig.StripeSecretKey},
		WebhookSecret: appConfig.StripeWebhookSecret,
		PriceIDs: map[plans.Plan]string{
			plans.PlanBasic:    appConfig.StripePriceBasic,
			plans.PlanStandard: appConfig.StripePriceStandard,
		},
		SuccessURL: appConfig.CheckoutSuccessURL,
		CancelURL:  appConfig.CheckoutCancelURL,
		Timeout:    appConfig.ProviderTimeout,
	})
	if err != nil {
		return nil, nil, err
	}

	mercadoPagoConfig, err := mpconfig.New(appConfig.MercadoPagoAccessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("mercado pago client: %w", err)
	}
	mercadoPagoGateway, err := payments.NewMercadoPagoGateway(payments.MercadoPagoConfig{
		Preferences: preference.NewClient(mercadoPagoConfig),
		Payments:    payment.NewClient(mercadoPagoConfig),
		Prices: map[plans.Plan]float64{
			plans.PlanBasic:    appConfig.MercadoPagoPriceBasic,
			plans.PlanStandard: appConfig.MercadoPagoPriceStandard,
		},
		Currency:          appConfig.MercadoPagoCurrency,
		DefaultPayerEmail: appConfig.DefaultPayerEmail,
		SuccessURL:        appConfig.CheckoutSuccessURL,
		FailureURL:        appConfig.CheckoutCancelURL,
		Timeout:           appConfig.ProviderTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return stripeGateway, mercadoPagoGateway, nil
}

func buildDeduper(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (payments.Deduper, func(), error) {
	if appConfig.RedisAddress == "" {
		logger.Info("webhook dedupe kept in process")
		return payments.NewMemoryDeduper(0, appConfig.DedupeTTL), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     appConfig.RedisAddress,
		Password: appConfig.RedisPassword,
		DB:       appConfig.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, appConfig.ProviderTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", appConfig.RedisAddress, err)
	}
	logger.Info("webhook dedupe backed by redis", zap.String("address", appConfig.RedisAddress))
	return payments.NewRedisDeduper(client, appConfig.DedupeTTL), func() { _ = client.Close() }, nil
}

func pingDatabase(db *gorm.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
