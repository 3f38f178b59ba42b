// Package router implements cross-service event routing: fan-out of
// events to subscribing services' channels, deduplication, and a
// broadcast channel for events with no specific route, as described by
// the engine's channel-naming scheme (events:service:<name>,
// events:broadcast, events:dedup:<event_id>).
package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowcoreio/enginecore/internal/event/store"
	"github.com/flowcoreio/enginecore/pkg/broker"
	"github.com/flowcoreio/enginecore/pkg/flowerrors"
	"github.com/flowcoreio/enginecore/pkg/logging"
	"github.com/flowcoreio/enginecore/pkg/retry"
)

const (
	serviceChannelPrefix = "events:service:"
	broadcastChannel     = "events:broadcast"
	dedupKeyPrefix       = "events:dedup:"
)

// Config declares static routing rules: which services receive which
// event types, and how long a dedup key is held.
type Config struct {
	EventRoutes         map[string][]string // event_type -> service names
	DedupWindowSeconds  int
	MaxDeliveryAttempts int
}

// Router delivers envelopes to the services subscribed to their event
// type, deduplicating via the configured broker and falling back to the
// broadcast channel when no explicit route exists.
type Router struct {
	cfg    Config
	broker broker.Broker
	policy retry.Policy

	processed prometheus.Counter
	duplicate prometheus.Counter
	failed    prometheus.Counter
}

func New(cfg Config, b broker.Broker) *Router {
	if cfg.MaxDeliveryAttempts <= 0 {
		cfg.MaxDeliveryAttempts = 3
	}
	if cfg.DedupWindowSeconds <= 0 {
		cfg.DedupWindowSeconds = 300
	}
	return &Router{
		cfg:    cfg,
		broker: b,
		policy: retry.Policy{MaxAttempts: cfg.MaxDeliveryAttempts, BaseDelay: retry.DefaultPolicy.BaseDelay, MaxDelay: retry.DefaultPolicy.MaxDelay, Multiplier: retry.DefaultPolicy.Multiplier, Jitter: retry.DefaultPolicy.Jitter},
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "event_router_processed_total",
			Help: "Events successfully routed.",
		}),
		duplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "event_router_duplicate_total",
			Help: "Events skipped as duplicates.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "event_router_failed_total",
			Help: "Events that failed delivery after all retries.",
		}),
	}
}

// Name identifies the router as a stream.Subscriber.
func (r *Router) Name() string { return "event-router" }

// Handle satisfies stream.Subscriber by routing the delivered envelope.
func (r *Router) Handle(ctx context.Context, env *store.Envelope) error {
	return r.Route(ctx, env)
}

// Route implements the router's delivery protocol: (1) check dedup,
// (2) resolve target services from EventRoutes, (3) fall back to
// broadcast if none, (4) marshal the envelope, (5) publish to each
// target with retry, (6) record outcome in metrics.
func (r *Router) Route(ctx context.Context, env *store.Envelope) error {
	dedupKey := dedupKeyPrefix + env.EventID
	fresh, err := r.broker.SetNX(ctx, dedupKey, r.cfg.DedupWindowSeconds)
	if err != nil {
		return err
	}
	if !fresh {
		r.duplicate.Inc()
		logging.Debug("event.router", "duplicate event %s suppressed", env.EventID)
		return nil
	}

	targets := r.cfg.EventRoutes[env.EventType]
	channels := make([]string, 0, len(targets)+1)
	for _, svc := range targets {
		channels = append(channels, serviceChannelPrefix+svc)
	}
	if len(channels) == 0 {
		channels = append(channels, broadcastChannel)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return flowerrors.NewRuntime("event.router", "marshaling envelope", err)
	}

	for _, channel := range channels {
		channel := channel
		err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
			if pubErr := r.broker.Publish(ctx, channel, payload); pubErr != nil {
				return flowerrors.NewConnection("event.router", fmt.Sprintf("publishing to %s", channel), pubErr)
			}
			return nil
		})
		if err != nil {
			r.failed.Inc()
			return flowerrors.NewRuntime("event.router", fmt.Sprintf("delivering %s to %s failed", env.EventID, channel), err)
		}
	}

	r.processed.Inc()
	return nil
}
