package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/hospital-api/internal/handler/health"
	"github.com/jwalitptl/hospital-api/internal/handler/prometheus"
	"github.com/jwalitptl/hospital-api/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type RouterConfig struct {
	ServiceName      string
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	CORSConfig       middleware.CORSConfig
	Timeout          time.Duration
	MaxBodySize      int64
}

// NewRouter builds the engine: probes and metrics at the root, the API under /api/v1.
func NewRouter(config RouterConfig, healthH *health.Handler, metricsH *prometheus.Handler, handlers ...Handler) *gin.Engine {
	engine := gin.New()

	engine.Use(
		otelgin.Middleware(config.ServiceName),
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
	)
	if metricsH != nil {
		engine.Use(metricsH.Middleware())
		engine.GET("/metrics", metricsH.Handler())
	}
	if healthH != nil {
		healthH.RegisterRoutes(engine)
	}

	api := engine.Group("/api/v1")
	api.Use(
		middleware.SecurityHeaders(),
		middleware.CORS(config.CORSConfig),
		middleware.SizeLimit(middleware.SizeLimitConfig{MaxBodySize: config.MaxBodySize}),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.Timeout}),
	)
	if config.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		api.Use(limiter.RateLimit())
	}

	for _, h := range handlers {
		h.RegisterRoutes(api)
	}
	return engine
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		ServiceName: "hospital-api",
		CORSConfig:  middleware.DefaultCORSConfig(),
		Timeout:     middleware.DefaultTimeoutConfig().Duration,
		MaxBodySize: middleware.DefaultSizeLimitConfig().MaxBodySize,
	}
}
