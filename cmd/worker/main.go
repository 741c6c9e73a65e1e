package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/hospital-api/internal/config"
	"github.com/jwalitptl/hospital-api/internal/handler/health"
	promHandler "github.com/jwalitptl/hospital-api/internal/handler/prometheus"
	"github.com/jwalitptl/hospital-api/internal/repository/postgres"
	internalWorker "github.com/jwalitptl/hospital-api/internal/worker"
	"github.com/jwalitptl/hospital-api/pkg/logger"
	"github.com/jwalitptl/hospital-api/pkg/messaging/redis"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
	"github.com/jwalitptl/hospital-api/pkg/worker"
)

const healthAddr = ":8081"

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.Storage.Driver != config.StoragePostgres {
		log.Fatal().Str("driver", cfg.Storage.Driver).Msg("Outbox worker requires postgres storage")
	}

	// Initialize logger
	appLogger := logger.NewLogger(cfg.ToLoggerConfig())
	log.Logger = *appLogger.Zerolog()
	gin.SetMode(gin.ReleaseMode)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.NewMetrics("hospital", "outbox_worker", registry)

	// Initialize database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis broker
	broker, err := redis.NewRedisBroker(cfg.ToBrokerConfig(), &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Redis broker")
	}
	defer broker.Close()

	// Initialize repositories
	outboxRepo := postgres.NewOutboxRepository(postgres.NewBaseRepository(db, m))

	processor := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		cfg.ToWorkerConfig(),
		appLogger.WithFields(map[string]interface{}{"component": "outbox_processor"}),
		m,
	)
	cleanup := internalWorker.NewOutboxCleanupWorker(
		outboxRepo,
		cfg.Outbox.Retention,
		cfg.Outbox.CleanupEvery,
		appLogger.WithFields(map[string]interface{}{"component": "outbox_cleanup"}),
		m,
	)

	// Setup health check endpoints
	srv := setupHealthCheck(registry, map[string]health.Check{
		"postgres": db.PingContext,
		"redis":    broker.Ping,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()
	log.Info().Str("channel", cfg.Events.Channel).Msg("Outbox worker started")

	wg.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Health server forced to shutdown")
	}
	log.Info().Msg("Outbox worker stopped")
}

func setupHealthCheck(registry *prometheus.Registry, checks map[string]health.Check) *http.Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	health.NewHandler(checks).RegisterRoutes(engine)
	engine.GET("/metrics", promHandler.New(registry).Handler())

	srv := &http.Server{Addr: healthAddr, Handler: engine}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Health check server failed")
		}
	}()
	return srv
}
