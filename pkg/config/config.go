package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App         AppConfig
	Service     ServiceConfig
	DB          DBConfig
	Redis       RedisConfig
	Checkout    CheckoutConfig
	Webhooks    WebhooksConfig
	MercadoPago MercadoPagoConfig
	GCP         GCPConfig
	PubSub      PubSubConfig
	Outbox      OutboxConfig
	Cron        CronConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"VENDALIVRE_APP_ENV" required:"true"`
	Port         string `envconfig:"VENDALIVRE_APP_PORT" required:"true"`
	MetricsPort  string `envconfig:"VENDALIVRE_METRICS_PORT"`
	LogLevel     string `envconfig:"VENDALIVRE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VENDALIVRE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"VENDALIVRE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"VENDALIVRE_DB_DSN"`
	Driver string `envconfig:"VENDALIVRE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"VENDALIVRE_DB_HOST"`
	LegacyPort     int    `envconfig:"VENDALIVRE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"VENDALIVRE_DB_USER"`
	LegacyPassword string `envconfig:"VENDALIVRE_DB_PASSWORD"`
	LegacyName     string `envconfig:"VENDALIVRE_DB_NAME"`
	LegacySSLMode  string `envconfig:"VENDALIVRE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VENDALIVRE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VENDALIVRE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VENDALIVRE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VENDALIVRE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"VENDALIVRE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"VENDALIVRE_REDIS_ADDR"`
	Password     string        `envconfig:"VENDALIVRE_REDIS_PASSWORD"`
	DB           int           `envconfig:"VENDALIVRE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VENDALIVRE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VENDALIVRE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VENDALIVRE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VENDALIVRE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VENDALIVRE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type CheckoutConfig struct {
	AbandonedOrderTTL time.Duration `envconfig:"VENDALIVRE_CHECKOUT_ABANDONED_ORDER_TTL" default:"72h"`
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"VENDALIVRE_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
	MaxRetries     int           `envconfig:"VENDALIVRE_WEBHOOK_MAX_RETRIES" default:"5"`
	BatchSize      int           `envconfig:"VENDALIVRE_WEBHOOK_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"VENDALIVRE_WEBHOOK_POLL_MS" default:"500"`

	MercadoPagoSecret string `envconfig:"VENDALIVRE_WEBHOOK_MERCADOPAGO_SECRET"`
	StripeSecret      string `envconfig:"VENDALIVRE_WEBHOOK_STRIPE_SECRET"`
	PixSecret         string `envconfig:"VENDALIVRE_WEBHOOK_PIX_SECRET"`
}

type MercadoPagoConfig struct {
	AccessToken    string        `envconfig:"VENDALIVRE_MERCADOPAGO_ACCESS_TOKEN"`
	BaseURL        string        `envconfig:"VENDALIVRE_MERCADOPAGO_BASE_URL"`
	Timeout        time.Duration `envconfig:"VENDALIVRE_MERCADOPAGO_TIMEOUT" default:"10s"`
	PixExpiry      time.Duration `envconfig:"VENDALIVRE_MERCADOPAGO_PIX_EXPIRY" default:"30m"`
	BoletoExpiry   time.Duration `envconfig:"VENDALIVRE_MERCADOPAGO_BOLETO_EXPIRY" default:"72h"`
	NotificationURL string       `envconfig:"VENDALIVRE_MERCADOPAGO_NOTIFICATION_URL"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"VENDALIVRE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"VENDALIVRE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"VENDALIVRE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic              string `envconfig:"VENDALIVRE_PUBSUB_ORDERS_TOPIC" default:"vl-order-events"`
	NotificationTopic        string `envconfig:"VENDALIVRE_PUBSUB_NOTIFICATION_TOPIC" default:"vl-notification-events"`
	NotificationSubscription string `envconfig:"VENDALIVRE_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"VENDALIVRE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"VENDALIVRE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"VENDALIVRE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"VENDALIVRE_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"VENDALIVRE_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"VENDALIVRE_CRON_LOCK_TTL" default:"10m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"VENDALIVRE_AUTO_MIGRATE" default:"false"`
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
