package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"auth-serverless/internal/auth"
	"auth-serverless/internal/common"
	"auth-serverless/internal/config"
	"auth-serverless/internal/db"
	"auth-serverless/internal/maintenance"
	"auth-serverless/internal/observability"
	"auth-serverless/internal/password"
	"auth-serverless/internal/refresh"
	"auth-serverless/internal/storage/memory"
	"auth-serverless/internal/token"
	"auth-serverless/internal/users"
)

const healthTimeout = 2 * time.Second

type Options struct {
	LoadDotEnv bool
}

type Runtime struct {
	Config  config.Config
	Logger  *observability.Logger
	Handler http.Handler
	Close   func() error
}

type pinger func(ctx context.Context) error

// Build loads configuration and wires every component. A returned error
// means the process must not serve traffic.
func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(config.LoadOptions{DotEnv: options.LoadDotEnv})
	if err != nil {
		return nil, err
	}
	return BuildWith(cfg)
}

func BuildWith(cfg config.Config) (rt *Runtime, err error) {
	logger := observability.NewLogger(cfg.LogLevel)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	shutdownTracing, err := observability.SetupTracing(context.Background(), cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("init_tracing_failed", map[string]any{"error": err.Error()})
	}

	var closers []func() error
	closers = append(closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(ctx)
	})
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		observability.FlushSentry()
		return errors.Join(errs...)
	}
	defer func() {
		if err != nil {
			_ = closeAll()
		}
	}()

	checks := make(map[string]pinger)

	var (
		userStore auth.UserStore
		database  *sql.DB
	)
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		database, err = openDatabase(cfg)
		if err != nil {
			return nil, err
		}
		closers = append(closers, database.Close)
		checks["database"] = database.PingContext
		userStore = users.NewPostgresRepository(database)
	default:
		userStore = memory.NewUserStore()
	}

	var refreshStore refresh.Store
	switch {
	case cfg.RefreshStore == config.RefreshStoreRedis:
		client, err := openRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		closers = append(closers, client.Close)
		store := refresh.NewRedisStore(client, "")
		checks["redis"] = store.Ping
		refreshStore = store
	case database != nil:
		refreshStore = refresh.NewPostgresStore(database)
	default:
		refreshStore = memory.NewRefreshStore()
	}

	codec, err := token.NewCodec([]byte(cfg.AccessTokenSecret), cfg.AccessTokenTTL.Duration())
	if err != nil {
		return nil, &common.ConfigError{Field: "ACCESS_TOKEN_SECRET", Reason: err.Error()}
	}

	sessions := refresh.NewLifecycle(refreshStore, cfg.RefreshTokenTTL.Duration(), refresh.WithTimeout(cfg.StoreTimeout))
	service := auth.NewService(
		userStore,
		sessions,
		codec,
		password.NewHasher(cfg.HashConcurrency),
		auth.WithLogger(logger),
		auth.WithStoreTimeout(cfg.StoreTimeout),
	)
	authHandler := auth.NewHandler(service, logger, auth.CookieConfig{
		Secure:     cfg.Production(),
		AccessTTL:  codec.TTL(),
		RefreshTTL: sessions.TTL(),
	})
	sessionsHandler := maintenance.NewSessionsHandler(sessions, logger, cfg.CronSecret)

	mux := http.NewServeMux()
	authHandler.Register(mux, auth.NewAuthenticator(codec, logger))
	mux.HandleFunc("GET /internal/maintenance/sessions", sessionsHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/sessions", sessionsHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(checks))

	logger.Info("runtime_ready", map[string]any{
		"storage_driver": cfg.StorageDriver,
		"refresh_store":  cfg.RefreshStore,
	})

	return &Runtime{
		Config:  cfg,
		Logger:  logger,
		Handler: observability.Chain(logger, mux),
		Close:   closeAll,
	}, nil
}

func openDatabase(cfg config.Config) (*sql.DB, error) {
	database, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	database.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	defer cancel()

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.RunMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return database, nil
}

func openRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func healthHandler(checks map[string]pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = "unreachable"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
