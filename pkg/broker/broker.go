// Package broker defines the pub/sub substrate the cross-service event
// router is built on, so the router can run against an in-process
// broker in tests and a Redis-backed one in production without changing
// any routing logic.
package broker

import "context"

// Message is one payload delivered on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Broker is the minimal pub/sub contract the router needs.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan Message, error)
	// SetNX sets key to a sentinel value with the given TTL if it does
	// not already exist, returning true if the set happened — the
	// primitive the router's dedup cache is built on.
	SetNX(ctx context.Context, key string, ttlSeconds int) (bool, error)
}
