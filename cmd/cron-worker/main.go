package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/internal/cart"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/cron"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/ledger"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/notifications"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/orders"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/payments"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/products"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/promotions"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/wallet"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/config"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/instance"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/metrics"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/migrate"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/redis"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/stripe"
)

const lockKeyFormat = "smp:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry, err := buildRegistry(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"instance":    instance.GetID(),
		"serviceKind": "cron-worker",
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// refundRelay breaks the construction cycle between the order lifecycle and
// the payment service, same as the API bootstrap.
type refundRelay struct {
	svc *payments.Service
}

func (r *refundRelay) QueueFullRefund(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error {
	return r.svc.QueueFullRefund(ctx, tx, orderID, reason)
}

// paymentProviderFor mirrors the API bootstrap so refunds queued by cron
// jobs hit the same PSP. Unknown names fall back to the noop provider.
func paymentProviderFor(cfg *config.Config, logg *logger.Logger) payments.Provider {
	switch cfg.Payments.ProviderName {
	case "", "noop":
		return payments.NoopProvider{}
	case "stripe":
		client, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to initialize stripe, using noop provider", err)
			return payments.NoopProvider{}
		}
		provider, err := payments.NewStripeProvider(client)
		if err != nil {
			logg.Error(context.Background(), "failed to build stripe provider, using noop provider", err)
			return payments.NoopProvider{}
		}
		return provider
	default:
		logg.Warn(context.Background(), "unknown payment provider, using noop: "+cfg.Payments.ProviderName)
		return payments.NoopProvider{}
	}
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*cron.Registry, error) {
	conn := dbClient.DB()
	domainMetrics := metrics.NewDomainMetrics(prometheus.DefaultRegisterer)
	outboxRepo := outbox.NewRepository(conn)
	outboxSvc := outbox.NewService(outboxRepo, logg)

	promotionsSvc, err := promotions.NewService(promotions.NewRepository(conn), logg)
	if err != nil {
		return nil, err
	}
	cartSvc, err := cart.NewService(cart.NewRepository(conn), products.NewRepository(conn), promotionsSvc, redisClient, logg, cfg.Cart, cfg.Checkout)
	if err != nil {
		return nil, err
	}
	walletSvc, err := wallet.NewService(wallet.NewRepository(conn), dbClient, outboxSvc, domainMetrics, logg)
	if err != nil {
		return nil, err
	}
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), walletSvc, logg)
	if err != nil {
		return nil, err
	}
	relay := &refundRelay{}
	ordersRepo := orders.NewRepository(conn)
	ordersSvc, err := orders.NewService(
		ordersRepo,
		dbClient,
		ledgerSvc,
		relay,
		orders.NewLeastLoadedMatcher(conn),
		outboxSvc,
		domainMetrics,
		logg,
	)
	if err != nil {
		return nil, err
	}
	paymentsSvc, err := payments.NewService(
		payments.NewRepository(conn),
		dbClient,
		ordersSvc,
		walletSvc,
		ledgerSvc,
		paymentProviderFor(cfg, logg),
		outboxSvc,
		domainMetrics,
		logg,
		cfg.Payments,
	)
	if err != nil {
		return nil, err
	}
	relay.svc = paymentsSvc

	cartSweep, err := cron.NewCartSweepJob(cron.CartSweepJobParams{
		Logger: logg,
		Carts:  cartSvc,
	})
	if err != nil {
		return nil, err
	}
	orderTTL, err := cron.NewOrderTTLJob(cron.OrderTTLJobParams{
		Logger:    logg,
		DB:        dbClient,
		Pending:   ordersRepo,
		Lifecycle: ordersSvc,
		Outbox:    outboxSvc,
	})
	if err != nil {
		return nil, err
	}
	notificationCleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: notifications.NewRepository(conn),
	})
	if err != nil {
		return nil, err
	}
	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewRegistry(cartSweep, orderTTL, notificationCleanup, outboxRetention), nil
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
