package config

const EnvPrefix = "MARKET"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv           = "MARKET_APP_ENV"
	EnvPort             = "MARKET_APP_PORT"
	EnvDBDSN            = "MARKET_DB_DSN"
	EnvDBHost           = "MARKET_DB_HOST"
	EnvDBUser           = "MARKET_DB_USER"
	EnvDBName           = "MARKET_DB_NAME"
	EnvDBPassword       = "MARKET_DB_PASSWORD"
	EnvUseSQLite        = "MARKET_USE_SQLITE"
	EnvRedisURL         = "MARKET_REDIS_URL"
	EnvJWTSecret        = "MARKET_JWT_SECRET"
	EnvJWTIssuer        = "MARKET_JWT_ISSUER"
	EnvShippingFeeCents = "MARKET_PRICING_SHIPPING_FEE_CENTS"
	EnvTaxRateBps       = "MARKET_PRICING_TAX_RATE_BPS"
	EnvWebhookSecrets   = "MARKET_WEBHOOK_SECRETS"
	EnvGatewayTimeout   = "MARKET_PAYMENTS_GATEWAY_TIMEOUT"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
