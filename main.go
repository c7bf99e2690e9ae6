package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/yashasviy/peer-transfer-api/api"
	"github.com/yashasviy/peer-transfer-api/config"
	"github.com/yashasviy/peer-transfer-api/db"
	"github.com/yashasviy/peer-transfer-api/events"
	"github.com/yashasviy/peer-transfer-api/kvstore"
	"github.com/yashasviy/peer-transfer-api/middleware"
	"github.com/yashasviy/peer-transfer-api/session"
	"github.com/yashasviy/peer-transfer-api/telemetry"
	"github.com/yashasviy/peer-transfer-api/transfer"
	"github.com/yashasviy/peer-transfer-api/users"
)

const serviceName = "peer-transfer-api"

// bankStore is what both storage backends provide.
type bankStore interface {
	transfer.AccountStore
	users.Directory
}

// sessionStore is what both session backends provide.
type sessionStore interface {
	users.Sessions
	middleware.Resolver
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := telemetry.InitLogger(serviceName, telemetry.ParseLevel(cfg.LogLevel))

	if cfg.Tracing.Enabled {
		cleanup, err := telemetry.InitTracer(serviceName, cfg.Tracing.Endpoint, os.Getenv("ENVIRONMENT"))
		if err != nil {
			logger.Warn("failed to initialize tracer", slog.Any("error", err))
		} else {
			defer cleanup()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Account storage
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", slog.String("backend", cfg.StoreBackend), slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	// 2. Sessions
	sessions, err := openSessions(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Transfer events
	engineOpts := []transfer.Option{
		transfer.WithRetry(cfg.Transfer.MaxRetries, cfg.Transfer.RetryBackoff),
		transfer.WithTimeout(cfg.Transfer.Timeout),
		transfer.WithLogger(logger),
	}
	if cfg.NATS.URL != "" {
		pub, err := events.Connect(cfg.NATS.URL, logger)
		if err != nil {
			logger.Warn("transfer events disabled", slog.Any("error", err))
		} else {
			defer pub.Close()
			engineOpts = append(engineOpts, transfer.WithPublisher(pub))
			logger.Info("NATS connected", slog.String("subject", events.TransferCompletedSubject))
		}
	}

	engine := transfer.NewEngine(store, engineOpts...)
	accounts := users.NewService(store, sessions,
		users.WithOpeningBalance(users.RandomOpeningBalance(cfg.OpeningBalanceMax)),
		users.WithLogger(logger))

	if cfg.ChaosMode {
		logger.Warn("chaos mode enabled")
	}
	h := api.NewHandler(engine, accounts, logger, cfg.ChaosMode)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewRouter(h, sessions, logger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", slog.String("addr", cfg.HTTPAddr), slog.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server forced to shutdown", slog.Any("error", err))
	}
	logger.Info("service stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (bankStore, func(), error) {
	if cfg.StoreBackend == config.BackendBadger {
		store, err := kvstore.Open(cfg.Badger.Path, false)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("badger opened", slog.String("path", cfg.Badger.Path))
		return store, func() { store.Close() }, nil
	}

	conn, err := db.Open(ctx, cfg.DB.URL, 10)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Initialize(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	logger.Info("postgres connected")
	return db.NewStore(conn), func() { conn.Close() }, nil
}

func openSessions(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sessionStore, error) {
	if cfg.Redis.Addr == "" {
		logger.Warn("REDIS_ADDR not set, keeping sessions in memory")
		return session.NewMemoryStore(cfg.Session.TTL), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	logger.Info("redis connected", slog.String("addr", cfg.Redis.Addr))
	return session.NewRedisStore(rdb, cfg.Session.TTL), nil
}
