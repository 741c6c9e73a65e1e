package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

type RateLimiterConfig struct {
	Rate  rate.Limit
	Burst int
	// Idle is how long a client's limiter survives without requests.
	Idle time.Duration
}

// RateLimiter applies a token bucket per client IP.
type RateLimiter struct {
	config  RateLimiterConfig
	clients *gocache.Cache
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Idle <= 0 {
		config.Idle = 10 * time.Minute
	}
	return &RateLimiter{
		config:  config,
		clients: gocache.New(config.Idle, config.Idle),
	}
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	if v, ok := rl.clients.Get(ip); ok {
		l := v.(*rate.Limiter)
		rl.clients.Set(ip, l, gocache.DefaultExpiration)
		return l
	}
	l := rate.NewLimiter(rl.config.Rate, rl.config.Burst)
	// Add loses to a concurrent first request from the same client; use the winner.
	if err := rl.clients.Add(ip, l, gocache.DefaultExpiration); err != nil {
		if v, ok := rl.clients.Get(ip); ok {
			return v.(*rate.Limiter)
		}
	}
	return l
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.limiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Code:    http.StatusTooManyRequests,
				Kind:    "rate_limited",
				Message: "rate limit exceeded",
				TraceID: traceID(c),
			})
			return
		}
		c.Next()
	}
}
