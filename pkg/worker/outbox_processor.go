package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
	"github.com/jwalitptl/hospital-api/pkg/logger"
	"github.com/jwalitptl/hospital-api/pkg/messaging"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
)

type OutboxProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	// RetryDelay is the wait after the first failure; it doubles with every further one.
	RetryDelay time.Duration
	Channel    string
}

// OutboxProcessor relays PENDING outbox rows to the broker.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor", "batch_size", p.config.BatchSize, "channel", p.config.Channel)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessBatch relays one batch and returns how many rows it settled.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	n, err := p.repo.ProcessPending(ctx, p.config.BatchSize, p.processEvent)
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("process_pending_events", "error").Inc()
		return n, fmt.Errorf("failed to process pending events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("process_pending_events", "success").Inc()
	return n, nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) {
	now := p.now()
	msg := messaging.Message{Type: event.EventType, Payload: json.RawMessage(event.Payload)}

	if err := p.broker.Publish(ctx, p.config.Channel, msg); err != nil {
		p.fail(event, err, now)
		return
	}

	p.metrics.OutboxEventsProcessed.Inc()
	event.Status = model.OutboxStatusProcessed
	event.ErrorMessage = nil
	event.RetryAt = nil
	event.ProcessedAt = &now
}

func (p *OutboxProcessor) fail(event *model.OutboxEvent, err error, now time.Time) {
	errStr := err.Error()
	event.ErrorMessage = &errStr
	event.RetryCount++

	if event.RetryCount >= p.config.RetryAttempts {
		p.metrics.OutboxEventsFailed.Inc()
		event.Status = model.OutboxStatusFailed
		event.RetryAt = nil
		p.logger.Error(err, "Giving up on outbox event",
			"event_id", event.ID.String(),
			"event_type", event.EventType,
			"attempts", event.RetryCount)
		return
	}

	p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
	retryAt := now.Add(p.retryDelay(event.RetryCount))
	event.RetryAt = &retryAt
	p.logger.Warn("Outbox event delivery failed, will retry",
		"event_id", event.ID.String(),
		"event_type", event.EventType,
		"retry_at", retryAt.Format(time.RFC3339),
		"error", errStr)
}

// retryDelay is RetryDelay·2^(attempt-1).
func (p *OutboxProcessor) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.RetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.config.RetryDelay << 10
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
