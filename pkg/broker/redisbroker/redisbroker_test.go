package redisbroker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Subscribe(ctx, "events:broadcast")
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "events:broadcast", []byte("hello")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSetNXOnlyFirstCallerWins(t *testing.T) {
	b := newTestBroker(t)

	first, err := b.SetNX(context.Background(), "dedup:1", 60)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := b.SetNX(context.Background(), "dedup:1", 60)
	require.NoError(t, err)
	assert.False(t, second)
}

func TestSubscribeChannelClosesOnContextCancel(t *testing.T) {
	b := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, "some-channel")
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after context cancellation")
	}
}
