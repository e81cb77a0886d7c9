package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "MODALUNA"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv   = "MODALUNA_APP_ENV"
	EnvPort     = "MODALUNA_APP_PORT"
	EnvDBDSN    = "MODALUNA_DB_DSN"
	EnvRedisURL = "MODALUNA_REDIS_URL"

	EnvJWTSecret  = "MODALUNA_JWT_SECRET"
	EnvJWTIssuer  = "MODALUNA_JWT_ISSUER"
	EnvJWTExpMins = "MODALUNA_JWT_EXPIRATION_MINUTES"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Webhook      WebhookConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.DB.DSN == "" {
		return nil, fmt.Errorf("%s is required", EnvDBDSN)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MODALUNA_APP_ENV" required:"true"`
	Port         string `envconfig:"MODALUNA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MODALUNA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MODALUNA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"MODALUNA_DB_DSN"`

	MaxOpenConns    int           `envconfig:"MODALUNA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MODALUNA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MODALUNA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MODALUNA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MODALUNA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MODALUNA_REDIS_ADDR"`
	Password     string        `envconfig:"MODALUNA_REDIS_PASSWORD"`
	DB           int           `envconfig:"MODALUNA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MODALUNA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MODALUNA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MODALUNA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MODALUNA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MODALUNA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MODALUNA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MODALUNA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MODALUNA_JWT_EXPIRATION_MINUTES" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MODALUNA_AUTO_MIGRATE" default:"false"`
}

type WebhookConfig struct {
	// TTL of the delivery-dedup key for external fulfillment events.
	IdempotencyTTL time.Duration `envconfig:"MODALUNA_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MODALUNA_OUTBOX_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MODALUNA_OUTBOX_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MODALUNA_OUTBOX_MAX_ATTEMPTS" default:"10"`
}
