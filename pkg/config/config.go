package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Inventory    InventoryConfig
	Tx           TxConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Maintenance  MaintenanceConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Inventory.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"CRAFTSTOCK_APP_ENV" required:"true"`
	Port         string   `envconfig:"CRAFTSTOCK_APP_PORT" default:"8080"`
	LogLevel     string   `envconfig:"CRAFTSTOCK_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"CRAFTSTOCK_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"CRAFTSTOCK_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"CRAFTSTOCK_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CRAFTSTOCK_DB_DSN"`
	Driver string `envconfig:"CRAFTSTOCK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CRAFTSTOCK_DB_HOST"`
	LegacyPort     int    `envconfig:"CRAFTSTOCK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CRAFTSTOCK_DB_USER"`
	LegacyPassword string `envconfig:"CRAFTSTOCK_DB_PASSWORD"`
	LegacyName     string `envconfig:"CRAFTSTOCK_DB_NAME"`
	LegacySSLMode  string `envconfig:"CRAFTSTOCK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CRAFTSTOCK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CRAFTSTOCK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CRAFTSTOCK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CRAFTSTOCK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the local single-file driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), "sqlite")
}

type RedisConfig struct {
	URL          string        `envconfig:"CRAFTSTOCK_REDIS_URL"`
	Address      string        `envconfig:"CRAFTSTOCK_REDIS_ADDR"`
	Password     string        `envconfig:"CRAFTSTOCK_REDIS_PASSWORD"`
	DB           int           `envconfig:"CRAFTSTOCK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CRAFTSTOCK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CRAFTSTOCK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CRAFTSTOCK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CRAFTSTOCK_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"CRAFTSTOCK_REDIS_WRITE_TIMEOUT" default:"3s"`
}

// Enabled reports whether any redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

// JWTConfig verifies tokens minted by the external identity provider.
type JWTConfig struct {
	Secret            string `envconfig:"CRAFTSTOCK_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CRAFTSTOCK_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CRAFTSTOCK_JWT_EXPIRATION_MINUTES" default:"60"`
}

type InventoryConfig struct {
	LowStockThreshold decimal.Decimal   `envconfig:"CRAFTSTOCK_INVENTORY_LOW_STOCK_THRESHOLD" default:"10"`
	LowStockOverrides map[string]string `envconfig:"CRAFTSTOCK_INVENTORY_LOW_STOCK_OVERRIDES"`
	HierarchyCacheTTL time.Duration     `envconfig:"CRAFTSTOCK_INVENTORY_HIERARCHY_CACHE_TTL" default:"30s"`
	HistoryPageSize   int               `envconfig:"CRAFTSTOCK_INVENTORY_HISTORY_PAGE_SIZE" default:"50"`
}

// ThresholdOverrides parses the per material type overrides ("bracelet:5,loose_beads:200").
func (i InventoryConfig) ThresholdOverrides() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(i.LowStockOverrides))
	for key, raw := range i.LowStockOverrides {
		value, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("low stock override %q: %w", key, err)
		}
		if value.IsNegative() {
			return nil, fmt.Errorf("low stock override %q must be non-negative", key)
		}
		out[strings.TrimSpace(key)] = value
	}
	return out, nil
}

func (i InventoryConfig) validate() error {
	if i.LowStockThreshold.IsNegative() {
		return fmt.Errorf("%s must be non-negative", EnvLowStockThreshold)
	}
	if _, err := i.ThresholdOverrides(); err != nil {
		return fmt.Errorf("%s: %w", EnvLowStockOverrides, err)
	}
	return nil
}

// TxConfig bounds every inventory unit of work.
type TxConfig struct {
	Timeout    time.Duration `envconfig:"CRAFTSTOCK_TX_TIMEOUT" default:"5s"`
	MaxRetries uint64        `envconfig:"CRAFTSTOCK_TX_MAX_RETRIES" default:"3"`
	RetryBase  time.Duration `envconfig:"CRAFTSTOCK_TX_RETRY_BASE" default:"25ms"`
	RetryCap   time.Duration `envconfig:"CRAFTSTOCK_TX_RETRY_CAP" default:"500ms"`
}

type FeatureFlagsConfig struct {
	AutoMigrate    bool `envconfig:"CRAFTSTOCK_AUTO_MIGRATE" default:"false"`
	EmitLedgerFeed bool `envconfig:"CRAFTSTOCK_EMIT_LEDGER_FEED" default:"true"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"CRAFTSTOCK_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	LedgerTopic string `envconfig:"CRAFTSTOCK_PUBSUB_LEDGER_TOPIC" default:"craftstock-ledger"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CRAFTSTOCK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CRAFTSTOCK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CRAFTSTOCK_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type MaintenanceConfig struct {
	Interval            time.Duration `envconfig:"CRAFTSTOCK_MAINTENANCE_INTERVAL" default:"24h"`
	OutboxRetentionDays int           `envconfig:"CRAFTSTOCK_OUTBOX_RETENTION_DAYS" default:"30"`
	AuditPageSize       int           `envconfig:"CRAFTSTOCK_LEDGER_AUDIT_PAGE_SIZE" default:"200"`
	// MetricsAddr exposes the worker's /metrics when set, e.g. ":9091".
	MetricsAddr string `envconfig:"CRAFTSTOCK_MAINTENANCE_METRICS_ADDR"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
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
