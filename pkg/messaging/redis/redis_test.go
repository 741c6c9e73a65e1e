package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/hospital-api/pkg/messaging"
)

func newTestBroker(t *testing.T) (*RedisBroker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBrokerWithClient(client, nil)
	t.Cleanup(func() { b.Close() })
	return b, mr
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, err := b.Subscribe(ctx, "hospital.events")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "hospital.events", messaging.Message{
		Type:    "session.created",
		Payload: map[string]string{"id": "s-1"},
	}))

	select {
	case raw := <-ch:
		var msg messaging.Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "session.created", msg.Type)
	case <-ctx.Done():
		t.Fatal("message not received")
	}
}

func TestPublishFailsWhenRedisIsDown(t *testing.T) {
	b, mr := newTestBroker(t)
	mr.Close()

	err := b.Publish(context.Background(), "hospital.events", map[string]string{"a": "b"})
	assert.Error(t, err)
}

func TestNewRedisBrokerRejectsBadURL(t *testing.T) {
	_, err := NewRedisBroker(Config{URL: "://nope"}, nil)
	assert.Error(t, err)
}
