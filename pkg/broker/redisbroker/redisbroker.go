// Package redisbroker is a broker.Broker backed by Redis pub/sub and
// SETNX, giving the cross-service event router real multi-process
// delivery and dedup.
package redisbroker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowcoreio/enginecore/pkg/broker"
	"github.com/flowcoreio/enginecore/pkg/flowerrors"
)

type Broker struct {
	client *redis.Client
}

func New(client *redis.Client) *Broker {
	return &Broker{client: client}
}

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return flowerrors.NewConnection("broker.redis", "publish failed", err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan broker.Message, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, flowerrors.NewConnection("broker.redis", "subscribe failed", err)
	}

	out := make(chan broker.Message, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				out <- broker.Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}
			}
		}
	}()

	return out, nil
}

func (b *Broker) SetNX(ctx context.Context, key string, ttlSeconds int) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, 1, time.Duration(ttlSeconds)*time.Second).Result()
	if err != nil {
		return false, flowerrors.NewConnection("broker.redis", "setnx failed", err)
	}
	return ok, nil
}
