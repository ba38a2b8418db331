package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/billforge/billforge/pkg/apiserver"
	"github.com/billforge/billforge/pkg/config"
	"github.com/billforge/billforge/pkg/eventbus"
	"github.com/billforge/billforge/pkg/integrity"
	"github.com/billforge/billforge/pkg/logging"
	"github.com/billforge/billforge/pkg/store"
	"github.com/billforge/billforge/pkg/store/memory"
	"github.com/billforge/billforge/pkg/store/postgres"
	redisclient "github.com/billforge/billforge/pkg/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var st store.Store
	switch cfg.Store.Driver {
	case "memory":
		logger.Warn("Using the in-memory store, data is lost on restart")
		st = memory.NewStore()
	default:
		db, err := postgres.NewStore(&cfg.Database, cfg.Store, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		if cfg.Database.AutoMigrate {
			policy := integrity.DefaultPolicy(cfg.Integrity.SoftDeleteIsDelete)
			if err := db.Migrate(context.Background(), policy); err != nil {
				logger.Fatal("Failed to migrate database", zap.Error(err))
			}
		}
		st = db
	}
	defer st.Close()

	var redis *redisclient.Client
	var notifier eventbus.Notifier
	if len(cfg.Redis.Addresses) > 0 {
		redis, err = redisclient.NewClient(context.Background(), &cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redis.Close()
		notifier = eventbus.NewBus(redis.Client(), cfg.Redis.ChannelPrefix, func(err error) {
			logger.Warn("Failed to publish event notification", zap.Error(err))
		})
	}

	server := apiserver.NewServer(st, redis, cfg, logger, notifier)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.ReadTimeout * 2,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting API server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("Starting metrics server", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Metrics server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("Metrics server forced to shutdown", zap.Error(err))
	}
}
