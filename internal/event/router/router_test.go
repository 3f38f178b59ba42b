package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcoreio/enginecore/internal/event/store"
	"github.com/flowcoreio/enginecore/pkg/broker/memory"
)

func TestRouteDeliversToMappedServiceChannel(t *testing.T) {
	b := memory.New()
	r := New(Config{EventRoutes: map[string][]string{"order.created": {"billing"}}}, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := b.Subscribe(ctx, "events:service:billing")
	require.NoError(t, err)

	env := store.NewEnvelope("agg-1", "order", "order.created", 1, nil)
	require.NoError(t, r.Route(context.Background(), env))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected delivery to billing channel")
	}
}

func TestRouteFallsBackToBroadcastWithNoRoute(t *testing.T) {
	b := memory.New()
	r := New(Config{}, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := b.Subscribe(ctx, "events:broadcast")
	require.NoError(t, err)

	env := store.NewEnvelope("agg-1", "order", "order.unmapped", 1, nil)
	require.NoError(t, r.Route(context.Background(), env))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected broadcast delivery")
	}
}

func TestRouteSkipsDuplicateEvents(t *testing.T) {
	b := memory.New()
	r := New(Config{}, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := b.Subscribe(ctx, "events:broadcast")
	require.NoError(t, err)

	env := store.NewEnvelope("agg-1", "order", "order.unmapped", 1, nil)
	require.NoError(t, r.Route(context.Background(), env))
	require.NoError(t, r.Route(context.Background(), env))

	received := 0
	for {
		select {
		case <-ch:
			received++
		case <-time.After(100 * time.Millisecond):
			assert.Equal(t, 1, received)
			return
		}
	}
}
