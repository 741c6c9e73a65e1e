package config

import (
	"os"
	"strings"
	"time"

	"github.com/jwalitptl/hospital-api/pkg/event"
	"github.com/jwalitptl/hospital-api/pkg/logger"
	"github.com/jwalitptl/hospital-api/pkg/messaging/redis"
	"github.com/jwalitptl/hospital-api/pkg/telemetry"
	"github.com/jwalitptl/hospital-api/pkg/worker"
)

func (c *Config) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.Redis.URL,
		MaxRetries:   c.Redis.MaxRetries,
		RetryBackoff: c.Redis.RetryBackoff,
		PoolSize:     c.Redis.PoolSize,
		MinIdleConns: c.Redis.MinIdleConns,
	}
}

func (c *Config) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.Outbox.BatchSize,
		PollInterval:  c.Outbox.PollInterval,
		RetryAttempts: c.Outbox.RetryAttempts,
		RetryDelay:    c.Outbox.RetryDelay,
		Channel:       c.Events.Channel,
	}
}

func (c *Config) ToDispatcherConfig() event.DispatcherConfig {
	return event.DispatcherConfig{
		BufferSize:     c.Events.BufferSize,
		Workers:        c.Events.Workers,
		PublishTimeout: c.Events.PublishTimeout,
	}
}

func (c *Config) ToLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      logger.ParseLevel(c.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       strings.EqualFold(c.Log.Format, "json"),
	}
}

func (c *Config) ToTelemetryConfig(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Tracing.Enabled,
		Endpoint:       c.Tracing.Endpoint,
		ServiceName:    c.Tracing.ServiceName,
		ServiceVersion: version,
		SampleRatio:    c.Tracing.SampleRatio,
	}
}
