// Package memstore is an in-process, non-durable implementation of
// store.Store, used in tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/flowcoreio/enginecore/internal/event/store"
	"github.com/flowcoreio/enginecore/pkg/flowerrors"
)

type record struct {
	env *store.Envelope
	pos store.Position
}

type Store struct {
	mu          sync.RWMutex
	byAggregate map[string][]*store.Envelope
	byEventID   map[string]struct{}
	ordered     []record
	seq         uint64
}

func New() *Store {
	return &Store{
		byAggregate: make(map[string][]*store.Envelope),
		byEventID:   make(map[string]struct{}),
	}
}

func (s *Store) Append(ctx context.Context, env *store.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEventID[env.EventID]; exists {
		return nil
	}

	existing := s.byAggregate[env.AggregateID]
	expected := len(existing) + 1
	if env.AggregateVersion != expected {
		return flowerrors.NewConcurrencyConflict("event.memstore", "version conflict")
	}

	env.Stamp()

	s.byEventID[env.EventID] = struct{}{}
	s.byAggregate[env.AggregateID] = append(existing, env)
	s.seq++
	s.ordered = append(s.ordered, record{env: env, pos: store.NewPosition(env.RecordedAt, s.seq)})

	return nil
}

func (s *Store) Load(ctx context.Context, aggregateID string) ([]*store.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.byAggregate[aggregateID]
	out := make([]*store.Envelope, len(events))
	copy(out, events)
	return out, nil
}

// GetEventsFromPosition returns events recorded strictly after from, in
// global order, up to limit (0 meaning unbounded).
func (s *Store) GetEventsFromPosition(ctx context.Context, from store.Position, limit int) ([]*store.Envelope, store.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := sort.Search(len(s.ordered), func(i int) bool {
		return from.Less(s.ordered[i].pos)
	})

	end := len(s.ordered)
	if limit > 0 && idx+limit < end {
		end = idx + limit
	}

	out := make([]*store.Envelope, 0, end-idx)
	last := from
	for _, rec := range s.ordered[idx:end] {
		out = append(out, rec.env)
		last = rec.pos
	}
	return out, last, nil
}
