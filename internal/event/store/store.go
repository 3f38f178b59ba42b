package store

import (
	"context"
	"fmt"

	"github.com/flowcoreio/enginecore/pkg/flowerrors"
)

// Store is the append-only, per-aggregate event log the rest of the
// engine's event infrastructure is built on.
type Store interface {
	// Append records env, enforcing that AggregateVersion equals the
	// aggregate's current version + 1. Re-appending a known EventID is a
	// no-op success, per the store's idempotency contract.
	Append(ctx context.Context, env *Envelope) error
	// Load returns every event recorded for aggregateID, in version order.
	Load(ctx context.Context, aggregateID string) ([]*Envelope, error)
	// GetEventsFromPosition returns up to limit events recorded strictly
	// after from, in global recording order, along with the position of
	// the last event returned.
	GetEventsFromPosition(ctx context.Context, from Position, limit int) ([]*Envelope, Position, error)
}

func errVersionConflict(aggregateID string, expected, got int) error {
	return flowerrors.NewConcurrencyConflict("event.store",
		fmt.Sprintf("aggregate %s: expected version %d, got %d", aggregateID, expected, got))
}
