package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository/memory"
	"github.com/jwalitptl/hospital-api/pkg/logger"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
)

func TestCleanupRemovesOnlyOldProcessedRows(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Outbox()
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	old := now.Add(-10 * 24 * time.Hour)
	recent := now.Add(-time.Hour)
	rows := []*model.OutboxEvent{
		{ID: uuid.New(), EventType: "a", Status: model.OutboxStatusProcessed, ProcessedAt: &old},
		{ID: uuid.New(), EventType: "b", Status: model.OutboxStatusProcessed, ProcessedAt: &recent},
		{ID: uuid.New(), EventType: "c", Status: model.OutboxStatusFailed, UpdatedAt: old},
		{ID: uuid.New(), EventType: "d", Status: model.OutboxStatusPending},
	}
	for _, r := range rows {
		require.NoError(t, repo.Create(ctx, r))
	}

	w := NewOutboxCleanupWorker(repo, 7*24*time.Hour, time.Hour, logger.Nop(), metrics.NewNop())
	w.now = func() time.Time { return now }

	n, err := w.cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = w.cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartStopsOnCancel(t *testing.T) {
	w := NewOutboxCleanupWorker(memory.NewStore().Outbox(), time.Hour, time.Millisecond, logger.Nop(), metrics.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
