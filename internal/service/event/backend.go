// Package event binds the in-process event dispatcher to its delivery targets:
// straight to the message broker, or into the transactional outbox for the worker to relay.
package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/hospital-api/internal/config"
	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
	"github.com/jwalitptl/hospital-api/pkg/event"
	"github.com/jwalitptl/hospital-api/pkg/messaging"
)

// BrokerBackend publishes every envelope on one broker channel.
type BrokerBackend struct {
	broker  messaging.Broker
	channel string
}

func NewBrokerBackend(broker messaging.Broker, channel string) *BrokerBackend {
	return &BrokerBackend{broker: broker, channel: channel}
}

func (b *BrokerBackend) Deliver(ctx context.Context, env *event.Envelope) error {
	if err := b.broker.Publish(ctx, b.channel, messaging.Message{Type: string(env.Type), Payload: env}); err != nil {
		return fmt.Errorf("failed to publish %s: %w", env.Type, err)
	}
	return nil
}

// OutboxBackend stores envelopes as PENDING outbox rows.
type OutboxBackend struct {
	repo repository.OutboxRepository
}

func NewOutboxBackend(repo repository.OutboxRepository) *OutboxBackend {
	return &OutboxBackend{repo: repo}
}

func (o *OutboxBackend) Deliver(ctx context.Context, env *event.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	row := &model.OutboxEvent{
		ID:        env.ID,
		EventType: string(env.Type),
		Payload:   raw,
		Status:    model.OutboxStatusPending,
		CreatedAt: env.OccurredAt,
		UpdatedAt: env.OccurredAt,
	}
	if err := o.repo.Create(ctx, row); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

// NewBackend picks the delivery target for the configured events mode.
// It returns nil for EventsNone.
func NewBackend(cfg config.EventsConfig, broker messaging.Broker, outbox repository.OutboxRepository) (event.Backend, error) {
	switch cfg.Mode {
	case config.EventsBroker:
		if broker == nil {
			return nil, fmt.Errorf("events mode %q requires a broker", cfg.Mode)
		}
		return NewBrokerBackend(broker, cfg.Channel), nil
	case config.EventsOutbox:
		if outbox == nil {
			return nil, fmt.Errorf("events mode %q requires an outbox repository", cfg.Mode)
		}
		return NewOutboxBackend(outbox), nil
	case config.EventsNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown events mode %q", cfg.Mode)
	}
}
