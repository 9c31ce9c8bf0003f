package config

// EnvPrefix is passed to envconfig; every variable below is spelled out in full via struct tags.
const EnvPrefix = "CRAFTSTOCK"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv  = "CRAFTSTOCK_APP_ENV"
	EnvPort    = "CRAFTSTOCK_APP_PORT"
	EnvLogLvl  = "CRAFTSTOCK_LOG_LEVEL"
	EnvDBDSN   = "CRAFTSTOCK_DB_DSN"
	EnvDBHost  = "CRAFTSTOCK_DB_HOST"
	EnvDBUser  = "CRAFTSTOCK_DB_USER"
	EnvDBName  = "CRAFTSTOCK_DB_NAME"
	EnvDBDrv   = "CRAFTSTOCK_DB_DRIVER"
	EnvRedis   = "CRAFTSTOCK_REDIS_URL"
	EnvJWTKey  = "CRAFTSTOCK_JWT_SECRET"
	EnvJWTIss  = "CRAFTSTOCK_JWT_ISSUER"
	EnvGCPProj = "CRAFTSTOCK_GCP_PROJECT_ID"

	EnvLowStockThreshold = "CRAFTSTOCK_INVENTORY_LOW_STOCK_THRESHOLD"
	EnvLowStockOverrides = "CRAFTSTOCK_INVENTORY_LOW_STOCK_OVERRIDES"
	EnvTxTimeout         = "CRAFTSTOCK_TX_TIMEOUT"
	EnvTxMaxRetries      = "CRAFTSTOCK_TX_MAX_RETRIES"
	EnvLedgerTopic       = "CRAFTSTOCK_PUBSUB_LEDGER_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
