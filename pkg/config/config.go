package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "LEADLEDGER"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "LEADLEDGER_DB_DSN"
	EnvDBHost = "LEADLEDGER_DB_HOST"
	EnvDBUser = "LEADLEDGER_DB_USER"
	EnvDBName = "LEADLEDGER_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Gateway      GatewayConfig
	Catalog      CatalogConfig
	Retry        RetryConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = "sqlite"
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LEADLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"LEADLEDGER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LEADLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LEADLEDGER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LEADLEDGER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LEADLEDGER_DB_DSN"`
	Driver string `envconfig:"LEADLEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LEADLEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"LEADLEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LEADLEDGER_DB_USER"`
	LegacyPassword string `envconfig:"LEADLEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"LEADLEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"LEADLEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LEADLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LEADLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LEADLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LEADLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LEADLEDGER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LEADLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"LEADLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"LEADLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LEADLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LEADLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LEADLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LEADLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LEADLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// GatewayConfig holds the payment gateway webhook and checkout settings.
type GatewayConfig struct {
	WebhookToken         string `envconfig:"LEADLEDGER_GATEWAY_WEBHOOK_TOKEN" required:"true"`
	CheckoutBase         string `envconfig:"LEADLEDGER_GATEWAY_CHECKOUT_BASE" required:"true"`
	SuccessURL           string `envconfig:"LEADLEDGER_GATEWAY_SUCCESS_URL" required:"true"`
	CancelURL            string `envconfig:"LEADLEDGER_GATEWAY_CANCEL_URL" required:"true"`
	WebhookURL           string `envconfig:"LEADLEDGER_GATEWAY_WEBHOOK_URL" required:"true"`
	PeriodDays           int    `envconfig:"LEADLEDGER_GATEWAY_PERIOD_DAYS" default:"30"`
	AmountToleranceCents int64  `envconfig:"LEADLEDGER_GATEWAY_AMOUNT_TOLERANCE_CENTS" default:"0"`
}

// CatalogConfig controls the plan catalog read-through cache.
type CatalogConfig struct {
	CacheTTL time.Duration `envconfig:"LEADLEDGER_CATALOG_CACHE_TTL" default:"5m"`
}

// RetryConfig bounds the persistence retry policy.
type RetryConfig struct {
	MaxAttempts int           `envconfig:"LEADLEDGER_RETRY_MAX_ATTEMPTS" default:"3"`
	Backoff     time.Duration `envconfig:"LEADLEDGER_RETRY_BACKOFF" default:"500ms"`
}

// CronConfig schedules the period-expiry sweep.
type CronConfig struct {
	Interval    time.Duration `envconfig:"LEADLEDGER_CRON_INTERVAL" default:"1h"`
	SweepLimit  int           `envconfig:"LEADLEDGER_CRON_SWEEP_LIMIT" default:"500"`
	MetricsPort string        `envconfig:"LEADLEDGER_CRON_METRICS_PORT" default:"9090"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LEADLEDGER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LEADLEDGER_AUTO_MIGRATE" default:"false"`
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
