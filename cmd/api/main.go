package main

import (
	"context"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/gastonanderson039-glitch/supermarketpro/api/routes"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/cart"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/checkout"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/ledger"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/notifications"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/orders"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/payments"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/products"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/promotions"
	"github.com/gastonanderson039-glitch/supermarketpro/internal/wallet"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/config"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/metrics"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/migrate"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/outbox"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/redis"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/stripe"
)

// refundRelay breaks the construction cycle between the order lifecycle and
// the payment service: orders need a refund queuer before the payment
// service (which needs orders) exists.
type refundRelay struct {
	svc *payments.Service
}

func (r *refundRelay) QueueFullRefund(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) error {
	return r.svc.QueueFullRefund(ctx, tx, orderID, reason)
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	conn := dbClient.DB()
	domainMetrics := metrics.NewDomainMetrics(prometheus.DefaultRegisterer)
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)

	productsRepo := products.NewRepository(conn)
	promotionsSvc, err := promotions.NewService(promotions.NewRepository(conn), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create promotions service", err)
		os.Exit(1)
	}

	cartRepo := cart.NewRepository(conn)
	cartSvc, err := cart.NewService(cartRepo, productsRepo, promotionsSvc, redisClient, logg, cfg.Cart, cfg.Checkout)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	checkoutSvc, err := checkout.NewService(dbClient, cartRepo, productsRepo, promotionsSvc, outboxSvc, domainMetrics, logg, cfg.Checkout)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	walletSvc, err := wallet.NewService(wallet.NewRepository(conn), dbClient, outboxSvc, domainMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), walletSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	relay := &refundRelay{}
	ordersSvc, err := orders.NewService(
		orders.NewRepository(conn),
		dbClient,
		ledgerSvc,
		relay,
		orders.NewLeastLoadedMatcher(conn),
		outboxSvc,
		domainMetrics,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
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
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}
	relay.svc = paymentsSvc

	notificationsSvc, err := notifications.NewService(notifications.NewRepository(conn), dbClient, outboxSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Deps{
			DB:            dbClient,
			Redis:         redisClient,
			Metrics:       promhttp.Handler(),
			Cart:          cartSvc,
			Checkout:      checkoutSvc,
			Orders:        ordersSvc,
			Payments:      paymentsSvc,
			Wallet:        walletSvc,
			Promotions:    promotionsSvc,
			Notifications: notificationsSvc,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

// paymentProviderFor picks the PSP adapter by name. Unknown names fall back
// to the noop provider so a bad env var cannot take checkout down.
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
