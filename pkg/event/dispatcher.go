package event

import (
	"context"
	"sync"
	"time"

	"github.com/jwalitptl/hospital-api/pkg/logger"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
)

type DispatcherConfig struct {
	BufferSize     int
	Workers        int
	PublishTimeout time.Duration
}

type job struct {
	ctx context.Context
	env *Envelope
}

// Dispatcher is a Sink that queues envelopes on a bounded buffer and hands them to a
// Backend from a fixed pool of workers. A full buffer drops the event.
type Dispatcher struct {
	backend Backend
	config  DispatcherConfig
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
	once   sync.Once
}

var _ Sink = (*Dispatcher)(nil)

func NewDispatcher(backend Backend, config DispatcherConfig, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 2 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Dispatcher{
		backend: backend,
		config:  config,
		logger:  log,
		metrics: m,
		queue:   make(chan job, config.BufferSize),
	}
}

// Start launches the delivery workers. It is safe to call more than once.
func (d *Dispatcher) Start() {
	d.once.Do(func() {
		for i := 0; i < d.config.Workers; i++ {
			d.wg.Add(1)
			go d.work()
		}
	})
}

func (d *Dispatcher) Publish(ctx context.Context, eventType Type, payload interface{}) {
	env, err := NewEnvelope(eventType, payload, time.Now())
	if err != nil {
		d.logger.Error(err, "Dropping unserialisable event", "event_type", string(eventType))
		d.metrics.EventsFailed.WithLabelValues(string(eventType)).Inc()
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(env, "sink closed")
		return
	}

	// delivery must outlive the request that produced the event
	select {
	case d.queue <- job{ctx: context.WithoutCancel(ctx), env: env}:
	default:
		d.drop(env, "buffer full")
	}
}

func (d *Dispatcher) drop(env *Envelope, reason string) {
	d.metrics.EventsDropped.WithLabelValues(string(env.Type)).Inc()
	d.logger.Warn("Dropping event",
		"event_id", env.ID.String(),
		"event_type", string(env.Type),
		"reason", reason)
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.config.PublishTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.metrics.EventsFailed.WithLabelValues(string(j.env.Type)).Inc()
			d.logger.Warn("Event backend panicked", "event_type", string(j.env.Type), "panic", r)
		}
	}()

	if err := d.backend.Deliver(ctx, j.env); err != nil {
		d.metrics.EventsFailed.WithLabelValues(string(j.env.Type)).Inc()
		d.logger.Warn("Failed to deliver event",
			"event_id", j.env.ID.String(),
			"event_type", string(j.env.Type),
			"error", err.Error())
		return
	}
	d.metrics.EventsPublished.WithLabelValues(string(j.env.Type)).Inc()
}

// Close stops accepting events and waits for queued ones to be delivered or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
