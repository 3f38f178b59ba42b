// Package store implements the engine's append-only event store: the
// Envelope data model plus in-memory and bbolt-backed Store
// implementations.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the immutable wrapper around one recorded domain event.
type Envelope struct {
	EventID          string         `json:"event_id"`
	AggregateID      string         `json:"aggregate_id"`
	AggregateType    string         `json:"aggregate_type"`
	EventType        string         `json:"event_type"`
	AggregateVersion int            `json:"aggregate_version"`
	EventData        map[string]any `json:"event_data"`
	Metadata         map[string]any `json:"metadata"`
	OccurredAt       time.Time      `json:"occurred_at"`
	RecordedAt       time.Time      `json:"recorded_at"`
	SchemaVersion    int            `json:"schema_version"`
	CausationID      string         `json:"causation_id,omitempty"`
	CorrelationID    string         `json:"correlation_id,omitempty"`
	Checksum         string         `json:"checksum"`
}

// NewEnvelope builds an Envelope with a fresh event ID and stamps it.
// Store.Append re-stamps every envelope immediately before persisting,
// so this initial stamp only matters for envelopes inspected or
// migrated before ever reaching a store.
func NewEnvelope(aggregateID, aggregateType, eventType string, version int, data map[string]any) *Envelope {
	env := &Envelope{
		EventID:          uuid.NewString(),
		AggregateID:      aggregateID,
		AggregateType:    aggregateType,
		EventType:        eventType,
		AggregateVersion: version,
		EventData:        data,
		Metadata:         map[string]any{},
		OccurredAt:       time.Now(),
		SchemaVersion:    1,
	}
	env.Stamp()
	return env
}

// Stamp assigns recorded_at = now() and recomputes the checksum over
// the canonical field set (event_id, aggregate_id, event_type,
// schema_version, event_data). Store.Append calls this immediately
// before persisting, so an envelope migrated to a new schema version
// in place still checksums correctly once it lands in a store.
func (e *Envelope) Stamp() {
	e.RecordedAt = time.Now()
	e.Checksum = e.computeChecksum()
}

// computeChecksum hashes a canonical concatenation of the envelope's
// identity-bearing fields so tampering or corruption in storage is
// detectable on read.
func (e *Envelope) computeChecksum() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d|%v", e.EventID, e.AggregateID, e.EventType, e.SchemaVersion, e.EventData)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChecksum reports whether the envelope's stored checksum matches
// its current fields.
func (e *Envelope) VerifyChecksum() bool {
	return e.Checksum == e.computeChecksum()
}

// Position is an opaque, monotonically increasing cursor into the
// store's global event order: a recorded-at timestamp plus a tiebreak
// sequence number, so two events recorded in the same instant still
// order deterministically.
type Position struct {
	recordedAt time.Time
	seq        uint64
}

// Time exposes the wall-clock component of a Position for diagnostics.
func (p Position) Time() time.Time { return p.recordedAt }

// NewPosition constructs a Position from its components. Store
// implementations use this to hand callers an opaque cursor; callers
// should otherwise only ever pass a Position back to the store that
// issued it.
func NewPosition(recordedAt time.Time, seq uint64) Position {
	return Position{recordedAt: recordedAt, seq: seq}
}

// Seq exposes the tiebreak sequence component of a Position.
func (p Position) Seq() uint64 { return p.seq }

func (p Position) Less(other Position) bool {
	if p.recordedAt.Equal(other.recordedAt) {
		return p.seq < other.seq
	}
	return p.recordedAt.Before(other.recordedAt)
}
