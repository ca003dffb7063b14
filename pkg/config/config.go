package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix scopes every environment variable read by envconfig.
	EnvPrefix = "SUPERMARKETPRO"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv = "SUPERMARKETPRO_APP_ENV"
	EnvDBDSN  = "SUPERMARKETPRO_DB_DSN"
	EnvDBHost = "SUPERMARKETPRO_DB_HOST"
	EnvDBUser = "SUPERMARKETPRO_DB_USER"
	EnvDBName = "SUPERMARKETPRO_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Checkout     CheckoutConfig
	Cart         CartConfig
	Payments     PaymentsConfig
	Stripe       StripeConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SUPERMARKETPRO_APP_ENV" required:"true"`
	Port         string `envconfig:"SUPERMARKETPRO_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SUPERMARKETPRO_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SUPERMARKETPRO_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"SUPERMARKETPRO_DB_DSN"`
	Driver string `envconfig:"SUPERMARKETPRO_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SUPERMARKETPRO_DB_HOST"`
	LegacyPort     int    `envconfig:"SUPERMARKETPRO_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SUPERMARKETPRO_DB_USER"`
	LegacyPassword string `envconfig:"SUPERMARKETPRO_DB_PASSWORD"`
	LegacyName     string `envconfig:"SUPERMARKETPRO_DB_NAME"`
	LegacySSLMode  string `envconfig:"SUPERMARKETPRO_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SUPERMARKETPRO_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SUPERMARKETPRO_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SUPERMARKETPRO_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SUPERMARKETPRO_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SUPERMARKETPRO_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SUPERMARKETPRO_REDIS_ADDR"`
	Password     string        `envconfig:"SUPERMARKETPRO_REDIS_PASSWORD"`
	DB           int           `envconfig:"SUPERMARKETPRO_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SUPERMARKETPRO_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SUPERMARKETPRO_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SUPERMARKETPRO_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SUPERMARKETPRO_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SUPERMARKETPRO_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SUPERMARKETPRO_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SUPERMARKETPRO_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SUPERMARKETPRO_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SUPERMARKETPRO_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SUPERMARKETPRO_AUTO_MIGRATE" default:"false"`
}

// CheckoutConfig carries platform-level pricing knobs applied at checkout.
type CheckoutConfig struct {
	ServiceFeeCents      int64 `envconfig:"SUPERMARKETPRO_CHECKOUT_SERVICE_FEE_CENTS" default:"0"`
	DefaultCommissionBps int64 `envconfig:"SUPERMARKETPRO_CHECKOUT_DEFAULT_COMMISSION_BPS" default:"1000"`
}

type CartConfig struct {
	AbandonAfter time.Duration `envconfig:"SUPERMARKETPRO_CART_ABANDON_AFTER" default:"720h"`
	LockTTL      time.Duration `envconfig:"SUPERMARKETPRO_CART_LOCK_TTL" default:"10s"`
}

type PaymentsConfig struct {
	ProviderName    string        `envconfig:"SUPERMARKETPRO_PAYMENTS_PROVIDER" default:"noop"`
	ProviderTimeout time.Duration `envconfig:"SUPERMARKETPRO_PAYMENTS_PROVIDER_TIMEOUT" default:"10s"`
	WebhookWindow   time.Duration `envconfig:"SUPERMARKETPRO_PAYMENTS_WEBHOOK_WINDOW" default:"1m"`
	WebhookIPLimit  int           `envconfig:"SUPERMARKETPRO_PAYMENTS_WEBHOOK_IP_LIMIT" default:"120"`
}

type StripeConfig struct {
	APIKey string `envconfig:"SUPERMARKETPRO_STRIPE_API_KEY"`
	Secret string `envconfig:"SUPERMARKETPRO_STRIPE_SECRET"`
	Env    string `envconfig:"SUPERMARKETPRO_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SUPERMARKETPRO_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"SUPERMARKETPRO_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SUPERMARKETPRO_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic       string `envconfig:"SUPERMARKETPRO_PUBSUB_ORDERS_TOPIC" default:"smp-order-events"`
	PaymentsTopic     string `envconfig:"SUPERMARKETPRO_PUBSUB_PAYMENTS_TOPIC" default:"smp-payment-events"`
	NotificationTopic string `envconfig:"SUPERMARKETPRO_PUBSUB_NOTIFICATION_TOPIC" default:"smp-notification-events"`
	// NotificationSubscription feeds the notifications worker. It should fan
	// in from the orders, payments and notification topics.
	NotificationSubscription string `envconfig:"SUPERMARKETPRO_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"smp-notification-consumer"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SUPERMARKETPRO_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SUPERMARKETPRO_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SUPERMARKETPRO_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
