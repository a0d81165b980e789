package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Pricing      PricingConfig
	Payments     PaymentsConfig
	Webhooks     WebhooksConfig
	Square       SquareConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if !cfg.FeatureFlags.UseSQLite {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"MARKET_APP_ENV" required:"true"`
	Port         string   `envconfig:"MARKET_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"MARKET_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"MARKET_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"MARKET_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"MARKET_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MARKET_SERVICE_KIND" default:"api"`
	// MetricsAddr is where background workers expose /metrics. Empty disables it.
	MetricsAddr string `envconfig:"MARKET_WORKER_METRICS_ADDR" default:":9102"`
}

type DBConfig struct {
	DSN        string `envconfig:"MARKET_DB_DSN"`
	SQLitePath string `envconfig:"MARKET_DB_SQLITE_PATH" default:"file:marketplace.db?cache=shared"`

	LegacyHost     string `envconfig:"MARKET_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKET_DB_USER"`
	LegacyPassword string `envconfig:"MARKET_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKET_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQueryThreshold logs statements slower than this at warn. Zero disables it.
	SlowQueryThreshold time.Duration `envconfig:"MARKET_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKET_REDIS_URL"`
	Address      string        `envconfig:"MARKET_REDIS_ADDR"`
	Password     string        `envconfig:"MARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
	// KeyPrefix namespaces every key so environments can share one instance.
	KeyPrefix string `envconfig:"MARKET_REDIS_KEY_PREFIX" default:"mkt"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MARKET_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MARKET_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MARKET_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MARKET_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MARKET_AUTO_MIGRATE" default:"false"`
}

// PricingConfig drives the shipping and tax figures computed at checkout.
type PricingConfig struct {
	ShippingFeeCents int64  `envconfig:"MARKET_PRICING_SHIPPING_FEE_CENTS" default:"0"`
	TaxRateBps       int64  `envconfig:"MARKET_PRICING_TAX_RATE_BPS" default:"0"`
	Currency         string `envconfig:"MARKET_PRICING_CURRENCY" default:"USD"`
}

func (p PricingConfig) validate() error {
	if p.ShippingFeeCents < 0 {
		return fmt.Errorf("%s must not be negative", EnvShippingFeeCents)
	}
	if p.TaxRateBps < 0 || p.TaxRateBps > 10000 {
		return fmt.Errorf("%s must be between 0 and 10000", EnvTaxRateBps)
	}
	return nil
}

type PaymentsConfig struct {
	Provider         string        `envconfig:"MARKET_PAYMENTS_PROVIDER" default:"sandbox"`
	GatewayTimeout   time.Duration `envconfig:"MARKET_PAYMENTS_GATEWAY_TIMEOUT" default:"10s"`
	StaleAfter       time.Duration `envconfig:"MARKET_PAYMENTS_STALE_AFTER" default:"30m"`
	ThreeDSReturnURL string        `envconfig:"MARKET_PAYMENTS_3DS_RETURN_URL" default:"http://localhost:8080/api/v1/payments/gateway/3ds/complete"`
}

type WebhooksConfig struct {
	// Secrets maps provider name to its HMAC secret, e.g. "sandbox:abc,square:def".
	Secrets   map[string]string `envconfig:"MARKET_WEBHOOK_SECRETS"`
	DedupeTTL time.Duration     `envconfig:"MARKET_WEBHOOK_DEDUPE_TTL" default:"72h"`
}

// SecretFor returns the signing secret configured for provider.
func (w WebhooksConfig) SecretFor(provider string) string {
	if w.Secrets == nil {
		return ""
	}
	return strings.TrimSpace(w.Secrets[strings.ToLower(strings.TrimSpace(provider))])
}

type SquareConfig struct {
	AccessToken string `envconfig:"MARKET_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"MARKET_SQUARE_ENV" default:"sandbox"`
	LocationID  string `envconfig:"MARKET_SQUARE_LOCATION_ID"`
}

// Environment returns the normalized Square environment.
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type GCPConfig struct {
	ProjectID       string `envconfig:"MARKET_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"MARKET_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	DomainTopic string `envconfig:"MARKET_PUBSUB_DOMAIN_TOPIC" default:"marketplace-domain-events"`
	// AggregateTopics routes an aggregate type to its own topic, e.g.
	// "payment_intent:payments-events,shipment:shipping-events".
	AggregateTopics map[string]string `envconfig:"MARKET_PUBSUB_AGGREGATE_TOPICS"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"MARKET_CRON_INTERVAL" default:"5m"`
	OrderTTL        time.Duration `envconfig:"MARKET_CRON_ORDER_TTL" default:"24h"`
	BatchSize       int           `envconfig:"MARKET_CRON_BATCH_SIZE" default:"100"`
	LockTTL         time.Duration `envconfig:"MARKET_CRON_LOCK_TTL" default:"10m"`
	OutboxRetention time.Duration `envconfig:"MARKET_CRON_OUTBOX_RETENTION" default:"720h"`
}

// RateLimitConfig throttles the unauthenticated payment callbacks and checkout.
type RateLimitConfig struct {
	Window          time.Duration `envconfig:"MARKET_RATE_LIMIT_WINDOW" default:"1m"`
	CallbackPerIP   int           `envconfig:"MARKET_RATE_LIMIT_CALLBACK_PER_IP" default:"600"`
	CheckoutPerUser int           `envconfig:"MARKET_RATE_LIMIT_CHECKOUT_PER_USER" default:"20"`
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
