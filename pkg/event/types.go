// Package event carries domain notifications from the services to an external sink.
// Publishing is fire-and-forget: callers never wait on delivery and never see its errors.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	SessionCreated Type = "session.created"
	SessionUpdated Type = "session.updated"
	SessionDeleted Type = "session.deleted"

	MachineCreated              Type = "machine.created"
	MachineUpdated              Type = "machine.updated"
	MachineStatusChanged        Type = "machine.status_changed"
	MachineMaintenanceScheduled Type = "machine.maintenance_scheduled"
	MachineMaintenanceCompleted Type = "machine.maintenance_completed"

	AdmissionCreated    Type = "admission.created"
	AdmissionDischarged Type = "admission.discharged"
	PatientTransferred  Type = "patient.transferred"
)

// Sink accepts events without blocking or failing the caller.
type Sink interface {
	Publish(ctx context.Context, eventType Type, payload interface{})
}

// Backend delivers a single envelope. Implementations may block and fail; the
// Dispatcher isolates callers from both.
type Backend interface {
	Deliver(ctx context.Context, env *Envelope) error
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, env *Envelope) error

func (f BackendFunc) Deliver(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

// Envelope is the serialised form of an event. The payload is marshalled at publish
// time so later mutation of the source value cannot leak into the event.
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Type       Type            `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType Type, payload interface{}, at time.Time) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: at.UTC(),
		Payload:    raw,
	}, nil
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, Type, interface{}) {}
