package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hibiken/asynq"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/config"
	"retailpos/backend/internal/httpapi"
	"retailpos/backend/internal/jobs"
	"retailpos/backend/internal/notify"
	"retailpos/backend/internal/observability"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
	pgstore "retailpos/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 3)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close error", slog.Any("error", err))
			}
		}
	}()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		closers = append(closers, func() error { pool.Close(); return nil })
		pg := pgstore.New(pool, pgstore.Options{LockTimeout: cfg.DatabaseLockTimeout})
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		repo = pg
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory", slog.String("store_id", memory.DemoStoreID))
	}

	readCache := cache.New(cache.NoopBackend{}, logger)
	var broker notify.Broker = notify.NewLocalBroker()
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			logger.Warn("redis unavailable, using noop cache and local broker", slog.Any("error", err))
		} else {
			closers = append(closers, client.Close)
			readCache = cache.New(cache.NewRedisBackend(client), logger)
			broker = notify.NewRedisBroker(client)

			queue := jobs.NewClient(redisClientOpt(cfg))
			closers = append(closers, queue.Close)
			readCache.SetRetryScheduler(queue)
			logger.Info("cache: redis", slog.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("cache: noop")
	}

	metrics := observability.NewMetrics()
	svc := service.New(service.Dependencies{
		Repo:     repo,
		Notifier: notify.NewNotifier(broker),
		Cache:    readCache,
		Metrics:  metrics,
		Logger:   logger,
	}, service.Options{
		Location:             loc,
		CommitMaxAttempts:    cfg.CommitMaxAttempts,
		CommitRetryBaseDelay: cfg.CommitRetryBaseDelay,
		InvoiceMaxAttempts:   cfg.InvoiceMaxAttempts,
		SalesCacheTTL:        cfg.SalesCacheTTL,
		SideEffectTimeout:    cfg.SideEffectTimeout,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL)
	api := httpapi.New(svc, auth, broker, metrics, logger, httpapi.Options{
		AllowedOrigin:           cfg.AllowedOrigin,
		WriteRateLimitPerMinute: cfg.WriteRateLimitPerMinute,
	})

	// WriteTimeout also applies to the stock stream, which lifts its own deadline.
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("POS backend listening", slog.String("addr", cfg.Address()), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-sigCtx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.Any("error", err))
	}
	logger.Info("server stopped")
	return nil
}

func redisClientOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AppEnv == "production" && (cfg.AllowedOrigin == "" || cfg.AllowedOrigin == "*") {
		return errors.New("ALLOWED_ORIGIN must name a concrete origin in production")
	}
	return nil
}
