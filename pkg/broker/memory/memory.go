// Package memory is an in-process broker.Broker implementation used in
// tests and single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/flowcoreio/enginecore/pkg/broker"
)

type Broker struct {
	mu          sync.Mutex
	subscribers map[string][]chan broker.Message
	dedup       map[string]time.Time
}

func New() *Broker {
	return &Broker{
		subscribers: make(map[string][]chan broker.Message),
		dedup:       make(map[string]time.Time),
	}
}

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	subs := append([]chan broker.Message{}, b.subscribers[channel]...)
	b.mu.Unlock()

	msg := broker.Message{Channel: channel, Payload: payload}
	for _, ch := range subs {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan broker.Message, error) {
	ch := make(chan broker.Message, 64)
	b.mu.Lock()
	b.subscribers[channel] = append(b.subscribers[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[channel]
		for i, c := range subs {
			if c == ch {
				b.subscribers[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

func (b *Broker) SetNX(ctx context.Context, key string, ttlSeconds int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if expiry, ok := b.dedup[key]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	b.dedup[key] = time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	return true, nil
}
