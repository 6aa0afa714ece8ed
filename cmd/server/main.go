// Package main is the entrypoint for the ApiPulse API server.
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

	"github.com/apipulse/apipulse/internal/api"
	"github.com/apipulse/apipulse/internal/api/handler"
	mw "github.com/apipulse/apipulse/internal/api/middleware"
	"github.com/apipulse/apipulse/internal/broker"
	"github.com/apipulse/apipulse/internal/cache"
	"github.com/apipulse/apipulse/internal/config"
	"github.com/apipulse/apipulse/internal/ingest"
	"github.com/apipulse/apipulse/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "queue", cfg.Broker.Queue)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to MongoDB
	mongoMgr := store.NewManager(cfg.Mongo)
	db, err := mongoMgr.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect mongodb: %w", err)
	}
	defer func() {
		if err := mongoMgr.Disconnect(context.Background()); err != nil {
			slog.Error("disconnect mongodb", "error", err)
		}
	}()
	slog.Info("mongodb connected", "database", cfg.Mongo.Database)

	mongoStore := store.NewMongoStore(db)

	// 3. Ensure indexes, including the hit retention TTL
	if err := mongoStore.EnsureIndexes(ctx, cfg.Mongo.HitRetention); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	slog.Info("mongodb indexes ensured", "hit_retention", cfg.Mongo.HitRetention)

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Connect to RabbitMQ. A broker outage at boot is not fatal; the
	// publisher and consumer both reconnect on demand.
	brokerMgr := broker.NewManager(cfg.Broker)
	defer brokerMgr.Close()
	if _, err := brokerMgr.Connect(ctx); err != nil {
		slog.Warn("rabbitmq unavailable at startup, will retry", "error", err)
	}
	publisher := broker.NewPublisher(brokerMgr, cfg.Broker)

	// 6. Start the queue consumer
	consumer := ingest.NewConsumer(brokerMgr, mongoStore, redisCache, cfg.Broker)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx); err != nil {
			slog.Error("consumer stopped", "error", err)
		}
	}()

	// 7. Build router with dependencies
	auth := mw.NewAuth(mongoStore)
	rateLimit := mw.NewRateLimit(redisCache, cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:    handler.NewHealthHandler(mongoStore, redisCache, brokerMgr),
		IngestHitHandler: handler.NewIngestHitHandler(publisher),
		ListHitsHandler:  handler.NewListHitsHandler(mongoStore),
		CreateKeyHandler: handler.NewCreateKeyHandler(mongoStore),
		ListKeysHandler:  handler.NewListKeysHandler(mongoStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(mongoStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Let in-flight deliveries finish before the broker connection drops.
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		slog.Warn("consumer did not stop before shutdown deadline")
	}

	slog.Info("server stopped gracefully")
	return nil
}
