// Package config loads the process-wide settings once at startup. The
// resulting Config is treated as read-only and handed to each component.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"auth-serverless/internal/common"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	RefreshStoreSQL   = "sql"
	RefreshStoreRedis = "redis"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	AccessTokenSecret string `env:"ACCESS_TOKEN_SECRET"`
	AccessTokenTTL    TTL    `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL   TTL    `env:"REFRESH_TOKEN_TTL" envDefault:"7d"`

	StoreTimeout    time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	HashConcurrency int           `env:"HASH_CONCURRENCY"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	RefreshStore  string `env:"REFRESH_STORE" envDefault:"sql"`
	RedisURL      string `env:"REDIS_URL"`
	RunMigrations bool   `env:"RUN_MIGRATIONS_ON_STARTUP" envDefault:"true"`
	Database      Database

	SentryDSN    string `env:"SENTRY_DSN"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	CronSecret   string `env:"CRON_SECRET"`
}

type Database struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"10m"`
}

type LoadOptions struct {
	// DotEnv reads ./.env first. Variables already set win.
	DotEnv bool
}

// Load reads the environment and validates the result. Any error is a
// *common.ConfigError and means the process must not start serving.
func Load(opts LoadOptions) (Config, error) {
	if opts.DotEnv {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, parseError(err)
	}

	cfg.AccessTokenSecret = strings.TrimSpace(cfg.AccessTokenSecret)
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.RefreshStore = strings.ToLower(strings.TrimSpace(cfg.RefreshStore))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.AccessTokenSecret == "":
		return &common.ConfigError{Field: "ACCESS_TOKEN_SECRET", Reason: "is required"}
	case c.AccessTokenTTL < 0:
		return &common.ConfigError{Field: "ACCESS_TOKEN_TTL", Reason: "must not be negative"}
	case c.RefreshTokenTTL <= 0:
		return &common.ConfigError{Field: "REFRESH_TOKEN_TTL", Reason: "must be positive"}
	case c.StoreTimeout <= 0:
		return &common.ConfigError{Field: "STORE_TIMEOUT", Reason: "must be positive"}
	}

	switch c.StorageDriver {
	case DriverPostgres:
		if strings.TrimSpace(c.Database.URL) == "" {
			return &common.ConfigError{Field: "DATABASE_URL", Reason: "is required for the postgres driver"}
		}
	case DriverMemory:
	default:
		return &common.ConfigError{Field: "STORAGE_DRIVER", Reason: fmt.Sprintf("unknown driver %q", c.StorageDriver)}
	}

	switch c.RefreshStore {
	case RefreshStoreSQL:
	case RefreshStoreRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return &common.ConfigError{Field: "REDIS_URL", Reason: "is required for the redis refresh store"}
		}
	default:
		return &common.ConfigError{Field: "REFRESH_STORE", Reason: fmt.Sprintf("unknown store %q", c.RefreshStore)}
	}

	return nil
}

// Production turns on Secure cookies.
func (c Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func parseError(err error) error {
	var aggregate env.AggregateError
	if errors.As(err, &aggregate) && len(aggregate.Errors) > 0 {
		var parseErr env.ParseError
		if errors.As(aggregate.Errors[0], &parseErr) {
			return &common.ConfigError{Field: envName(reflect.TypeOf(Config{}), parseErr.Name), Reason: parseErr.Err.Error()}
		}
		return &common.ConfigError{Field: "environment", Reason: aggregate.Errors[0].Error()}
	}
	return &common.ConfigError{Field: "environment", Reason: err.Error()}
}

// envName resolves a struct field name reported by the env parser back to
// the variable it was read from.
func envName(t reflect.Type, field string) string {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Name == field {
			if tag := sf.Tag.Get("env"); tag != "" {
				return strings.Split(tag, ",")[0]
			}
		}
		if sf.Type.Kind() == reflect.Struct && sf.Tag.Get("env") == "" {
			if name := envName(sf.Type, field); name != field {
				return name
			}
		}
	}
	return field
}
