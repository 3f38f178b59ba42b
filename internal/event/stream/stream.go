// Package stream implements poll-based event streaming: a single
// goroutine per Stream ticks on a configured interval, pulls new events
// from a store.Store, and delivers them to every registered Subscriber.
package stream

import (
	"context"
	"strings"
	"time"

	"github.com/flowcoreio/enginecore/internal/event/store"
	"github.com/flowcoreio/enginecore/pkg/logging"
)

// Subscriber receives events delivered by a Stream. A Handle failure is
// logged and does not stop the stream or affect other subscribers.
type Subscriber interface {
	Name() string
	Handle(ctx context.Context, env *store.Envelope) error
}

// Config declares what a Stream delivers and how.
type Config struct {
	Name            string
	EventTypes      []string // "*" matches any event type
	BatchSize       int
	PollInterval    time.Duration
	StartPosition   store.Position
	IncludeExisting bool
}

// Stream polls a store.Store and fans delivered events out to its
// Subscribers, backing off its poll interval when subscribers fall
// behind.
type Stream struct {
	cfg         Config
	store       store.Store
	subscribers []Subscriber
	position    store.Position
}

func New(cfg Config, st store.Store) *Stream {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Stream{cfg: cfg, store: st, position: cfg.StartPosition}
}

// Subscribe registers sub to receive every event this Stream delivers.
func (s *Stream) Subscribe(sub Subscriber) {
	s.subscribers = append(s.subscribers, sub)
}

// Run ticks on cfg.PollInterval until ctx is canceled, delivering
// matching events to every subscriber in order.
func (s *Stream) Run(ctx context.Context) error {
	interval := s.cfg.PollInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.poll(ctx); err != nil {
				logging.Error("event.stream", err, "stream %s poll failed", s.cfg.Name)
			}

			elapsed := time.Since(start)
			if elapsed > interval {
				// A slow subscriber is applying backpressure; widen the
				// poll interval proportionally rather than hammering the
				// store with overlapping polls.
				interval = elapsed * 2
				ticker.Reset(interval)
			} else if interval > s.cfg.PollInterval {
				interval = s.cfg.PollInterval
				ticker.Reset(interval)
			}
		}
	}
}

func (s *Stream) poll(ctx context.Context) error {
	events, last, err := s.store.GetEventsFromPosition(ctx, s.position, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	s.position = last

	for _, env := range events {
		if !s.matches(env) {
			continue
		}
		for _, sub := range s.subscribers {
			if err := sub.Handle(ctx, env); err != nil {
				logging.Error("event.stream", err, "subscriber %s failed on event %s", sub.Name(), env.EventID)
			}
		}
	}
	return nil
}

func (s *Stream) matches(env *store.Envelope) bool {
	if len(s.cfg.EventTypes) == 0 {
		return true
	}
	for _, t := range s.cfg.EventTypes {
		if t == "*" || strings.EqualFold(t, env.EventType) {
			return true
		}
	}
	return false
}
