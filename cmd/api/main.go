package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/hospital-api/internal/config"
	admissionHandler "github.com/jwalitptl/hospital-api/internal/handler/admission"
	"github.com/jwalitptl/hospital-api/internal/handler/health"
	machineHandler "github.com/jwalitptl/hospital-api/internal/handler/machine"
	promHandler "github.com/jwalitptl/hospital-api/internal/handler/prometheus"
	sessionHandler "github.com/jwalitptl/hospital-api/internal/handler/session"
	wardHandler "github.com/jwalitptl/hospital-api/internal/handler/ward"
	"github.com/jwalitptl/hospital-api/internal/repository"
	"github.com/jwalitptl/hospital-api/internal/repository/cache"
	"github.com/jwalitptl/hospital-api/internal/repository/memory"
	"github.com/jwalitptl/hospital-api/internal/repository/postgres"
	"github.com/jwalitptl/hospital-api/internal/router"
	admissionService "github.com/jwalitptl/hospital-api/internal/service/admission"
	eventService "github.com/jwalitptl/hospital-api/internal/service/event"
	machineService "github.com/jwalitptl/hospital-api/internal/service/machine"
	sessionService "github.com/jwalitptl/hospital-api/internal/service/session"
	transferService "github.com/jwalitptl/hospital-api/internal/service/transfer"
	wardService "github.com/jwalitptl/hospital-api/internal/service/ward"
	"github.com/jwalitptl/hospital-api/pkg/event"
	"github.com/jwalitptl/hospital-api/pkg/logger"
	"github.com/jwalitptl/hospital-api/pkg/messaging"
	"github.com/jwalitptl/hospital-api/pkg/messaging/redis"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
	"github.com/jwalitptl/hospital-api/pkg/telemetry"
)

var version = "dev"

type repositories struct {
	Machines   repository.MachineRepository
	Sessions   repository.SessionRepository
	Wards      repository.WardRepository
	Admissions repository.AdmissionRepository
	Outbox     repository.OutboxRepository
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(cfg.ToLoggerConfig())
	log.Logger = *appLogger.Zerolog()
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, cfg.ToTelemetryConfig(version))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics("hospital", "api", registry)

	checks := map[string]health.Check{}

	// Initialize storage
	repos, closeStorage, err := openStorage(cfg, m, checks)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer closeStorage()

	// Initialize Redis message broker
	var broker messaging.Broker
	if cfg.Events.Mode == config.EventsBroker {
		redisBroker, err := redis.NewRedisBroker(cfg.ToBrokerConfig(), &log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer redisBroker.Close()
		checks["redis"] = redisBroker.Ping
		broker = redisBroker
	}

	// Initialize event sink
	backend, err := eventService.NewBackend(cfg.Events, broker, repos.Outbox)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up event delivery")
	}
	var sink event.Sink = event.NopSink{}
	var dispatcher *event.Dispatcher
	if backend != nil {
		dispatcher = event.NewDispatcher(backend, cfg.ToDispatcherConfig(), appLogger, m)
		dispatcher.Start()
		sink = dispatcher
	}

	machineRepo := cache.NewMachineRepository(repos.Machines, cfg.Cache.MachineTTL, m)
	sessionRepo := cache.NewSessionRepository(repos.Sessions, machineRepo)

	// Initialize services
	machineSvc := machineService.NewService(machineRepo, sink, appLogger, m)
	sessionSvc := sessionService.NewService(sessionRepo, machineSvc, sink, appLogger, m)
	wardSvc := wardService.NewService(repos.Wards, appLogger)
	admissionSvc := admissionService.NewService(repos.Admissions, sink, appLogger, m)
	transferSvc := transferService.NewService(repos.Admissions, sink, appLogger, m)

	// Setup router
	r := router.NewRouter(
		routerConfig(cfg),
		health.NewHandler(checks),
		promHandler.New(registry),
		machineHandler.NewHandler(machineSvc),
		sessionHandler.NewHandler(sessionSvc),
		wardHandler.NewHandler(wardSvc, admissionSvc),
		admissionHandler.NewHandler(admissionSvc, transferSvc),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("storage", cfg.Storage.Driver).Str("events", cfg.Events.Mode).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if dispatcher != nil {
		if err := dispatcher.Close(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("event dispatcher did not drain")
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("failed to flush traces")
	}

	log.Info().Msg("server exited")
}

func openStorage(cfg *config.Config, m *metrics.Metrics, checks map[string]health.Check) (*repositories, func(), error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		checks["postgres"] = db.PingContext
		pg := postgres.NewRepositories(db, m)
		return &repositories{
			Machines:   pg.Machines,
			Sessions:   pg.Sessions,
			Wards:      pg.Wards,
			Admissions: pg.Admissions,
			Outbox:     pg.Outbox,
		}, func() { db.Close() }, nil
	default:
		store := memory.NewStore()
		return &repositories{
			Machines:   store.Machines(),
			Sessions:   store.Sessions(),
			Wards:      store.Wards(),
			Admissions: store.Admissions(),
			Outbox:     store.Outbox(),
		}, func() {}, nil
	}
}

func routerConfig(cfg *config.Config) router.RouterConfig {
	rc := router.DefaultRouterConfig()
	rc.ServiceName = cfg.Tracing.ServiceName
	rc.RateLimitEnabled = cfg.Server.RateLimit.Enabled
	rc.RateLimit = rate.Limit(cfg.Server.RateLimit.RequestsPerSecond)
	rc.RateBurst = cfg.Server.RateLimit.Burst
	if len(cfg.Server.AllowedOrigins) > 0 {
		rc.CORSConfig.AllowOrigins = cfg.Server.AllowedOrigins
	}
	if cfg.Server.RequestTimeout > 0 {
		rc.Timeout = cfg.Server.RequestTimeout
	}
	return rc
}
