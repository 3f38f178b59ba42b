package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowcoreio/enginecore/internal/event/store"
	"github.com/flowcoreio/enginecore/internal/event/store/memstore"
)

type captureSubscriber struct {
	mu   sync.Mutex
	name string
	seen []*store.Envelope
}

func (c *captureSubscriber) Name() string { return c.name }
func (c *captureSubscriber) Handle(ctx context.Context, env *store.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, env)
	return nil
}
func (c *captureSubscriber) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func TestStreamDeliversMatchingEvents(t *testing.T) {
	st := memstore.New()
	env := store.NewEnvelope("agg-1", "order", "order.created", 1, nil)
	require.NoError(t, st.Append(context.Background(), env))

	sub := &captureSubscriber{name: "billing"}
	s := New(Config{PollInterval: 10 * time.Millisecond, EventTypes: []string{"order.created"}}, st)
	s.Subscribe(sub)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	assert.GreaterOrEqual(t, sub.Count(), 1)
}

func TestStreamSkipsNonMatchingEventTypes(t *testing.T) {
	st := memstore.New()
	env := store.NewEnvelope("agg-1", "order", "order.created", 1, nil)
	require.NoError(t, st.Append(context.Background(), env))

	sub := &captureSubscriber{name: "billing"}
	s := New(Config{PollInterval: 10 * time.Millisecond, EventTypes: []string{"payment.captured"}}, st)
	s.Subscribe(sub)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	assert.Equal(t, 0, sub.Count())
}

func TestStreamDefaultsAreApplied(t *testing.T) {
	st := memstore.New()
	s := New(Config{}, st)
	assert.Equal(t, 100, s.cfg.BatchSize)
	assert.Equal(t, time.Second, s.cfg.PollInterval)
}
