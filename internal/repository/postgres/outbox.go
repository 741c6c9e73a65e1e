package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/hospital-api/internal/model"
)

var outboxColumns = []interface{}{
	"id", "event_type", "payload", "status", "error_message", "retry_count",
	"retry_at", "created_at", "processed_at", "updated_at",
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) (err error) {
	defer func() { r.observe("outbox.create", err) }()

	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}
	if event.Status == "" {
		event.Status = model.OutboxStatusPending
	}

	query := `
		INSERT INTO outbox_events (
			id, event_type, payload, status, retry_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`
	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		[]byte(event.Payload),
		string(event.Status),
		event.RetryCount,
		event.CreatedAt,
		event.UpdatedAt,
	)
	return translate(err, "outbox event", "create outbox event")
}

// ProcessPending locks a batch of due events with SKIP LOCKED so several relays can run side by side.
func (r *outboxRepository) ProcessPending(ctx context.Context, limit int, handle func(ctx context.Context, event *model.OutboxEvent)) (processed int, err error) {
	defer func() { r.observe("outbox.process", err) }()

	query, args, err := toSQL(dialect.From("outbox_events").Prepared(true).
		Select(outboxColumns...).
		Where(
			goqu.C("status").Eq(string(model.OutboxStatusPending)),
			goqu.Or(goqu.C("retry_at").IsNull(), goqu.C("retry_at").Lte(goqu.L("NOW()"))),
		).
		Order(goqu.C("created_at").Asc()).
		Limit(uint(limit)).
		ForUpdate(goqu.SkipLocked))
	if err != nil {
		return 0, err
	}

	err = r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var events []*model.OutboxEvent
		if err := tx.SelectContext(ctx, &events, query, args...); err != nil {
			return translate(err, "outbox event", "load pending events")
		}

		for _, evt := range events {
			handle(ctx, evt)
			evt.UpdatedAt = time.Now().UTC()

			_, err := tx.ExecContext(ctx, `
				UPDATE outbox_events
				SET status = $1,
					error_message = $2,
					retry_count = $3,
					retry_at = $4,
					processed_at = $5,
					updated_at = $6
				WHERE id = $7
			`, string(evt.Status), evt.ErrorMessage, evt.RetryCount, evt.RetryAt, evt.ProcessedAt, evt.UpdatedAt, evt.ID)
			if err != nil {
				return translate(err, "outbox event", "update outbox event")
			}
		}
		processed = len(events)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return processed, nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (_ int64, err error) {
	defer func() { r.observe("outbox.cleanup", err) }()

	query := `
		DELETE FROM outbox_events
		WHERE status = $1
		AND processed_at < $2
	`
	result, err := r.db.ExecContext(ctx, query, string(model.OutboxStatusProcessed), before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}

	return result.RowsAffected()
}
