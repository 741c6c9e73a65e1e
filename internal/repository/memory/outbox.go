package memory

import (
	"context"
	"sort"
	"time"

	"github.com/jwalitptl/hospital-api/internal/model"
)

type outboxRepository struct {
	s *Store
}

func (r *outboxRepository) Create(ctx context.Context, event *model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *event
	if c.Status == "" {
		c.Status = model.OutboxStatusPending
	}
	r.s.outbox[c.ID] = &c
	return nil
}

// ProcessPending holds the store lock while handle runs, so handlers must not call back into the store.
func (r *outboxRepository) ProcessPending(ctx context.Context, limit int, handle func(ctx context.Context, event *model.OutboxEvent)) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := time.Now().UTC()
	var due []*model.OutboxEvent
	for _, e := range r.s.outbox {
		if e.Status != model.OutboxStatusPending {
			continue
		}
		if e.RetryAt != nil && e.RetryAt.After(now) {
			continue
		}
		due = append(due, e)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	processed := 0
	for _, e := range due {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		c := *e
		handle(ctx, &c)
		c.UpdatedAt = time.Now().UTC()
		r.s.outbox[c.ID] = &c
		processed++
	}
	return processed, nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, e := range r.s.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.s.outbox, id)
			n++
		}
	}
	return n, nil
}
