// Package boltstore is a durable, embedded implementation of
// store.Store backed by go.etcd.io/bbolt: one shared bucket holding every
// aggregate's events under "<aggregate_id>/<version>" keys, a bucket of
// known event IDs, and a global position index bucket recording event
// recording order.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/flowcoreio/enginecore/internal/event/store"
	"github.com/flowcoreio/enginecore/pkg/flowerrors"
)

var (
	aggregatesBucket = []byte("aggregates")
	eventIDsBucket   = []byte("event_ids")
	positionBucket   = []byte("position_index")
)

type Store struct {
	db *bbolt.DB
	mu sync.Mutex // serializes the append-time version check + write
}

// Open opens (creating if necessary) a bbolt database at path and
// ensures its top-level buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, flowerrors.NewConfiguration("event.boltstore", fmt.Sprintf("opening %s: %v", path, err))
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{aggregatesBucket, eventIDsBucket, positionBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, flowerrors.NewConfiguration("event.boltstore", fmt.Sprintf("initializing buckets: %v", err))
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func aggregateKey(aggregateID string, version int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(version))
	return append([]byte(aggregateID+"/"), b...)
}

func (s *Store) Append(ctx context.Context, env *store.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		ids := tx.Bucket(eventIDsBucket)
		if ids.Get([]byte(env.EventID)) != nil {
			return nil
		}

		aggs := tx.Bucket(aggregatesBucket)
		cursor := aggs.Cursor()
		prefix := []byte(env.AggregateID + "/")
		maxVersion := 0
		for k, _ := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = cursor.Next() {
			v := int(binary.BigEndian.Uint64(k[len(prefix):]))
			if v > maxVersion {
				maxVersion = v
			}
		}
		if env.AggregateVersion != maxVersion+1 {
			return flowerrors.NewConcurrencyConflict("event.boltstore",
				fmt.Sprintf("aggregate %s: expected version %d, got %d", env.AggregateID, maxVersion+1, env.AggregateVersion))
		}

		env.Stamp()

		data, err := json.Marshal(env)
		if err != nil {
			return flowerrors.NewRuntime("event.boltstore", "marshaling envelope", err)
		}

		if err := aggs.Put(aggregateKey(env.AggregateID, env.AggregateVersion), data); err != nil {
			return err
		}
		if err := ids.Put([]byte(env.EventID), []byte{1}); err != nil {
			return err
		}

		pos := tx.Bucket(positionBucket)
		seq, _ := pos.NextSequence()
		posKey := make([]byte, 8)
		binary.BigEndian.PutUint64(posKey, seq)
		return pos.Put(posKey, data)
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func (s *Store) Load(ctx context.Context, aggregateID string) ([]*store.Envelope, error) {
	var out []*store.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		aggs := tx.Bucket(aggregatesBucket)
		cursor := aggs.Cursor()
		prefix := []byte(aggregateID + "/")
		for k, v := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = cursor.Next() {
			var env store.Envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return flowerrors.NewRuntime("event.boltstore", "unmarshaling envelope", err)
			}
			out = append(out, &env)
		}
		return nil
	})
	return out, err
}

func (s *Store) GetEventsFromPosition(ctx context.Context, from store.Position, limit int) ([]*store.Envelope, store.Position, error) {
	var out []*store.Envelope
	last := from

	err := s.db.View(func(tx *bbolt.Tx) error {
		pos := tx.Bucket(positionBucket)
		cursor := pos.Cursor()
		fromSeq := make([]byte, 8)
		binary.BigEndian.PutUint64(fromSeq, from.Seq())

		for k, v := cursor.Seek(fromSeq); k != nil; k, v = cursor.Next() {
			seq := binary.BigEndian.Uint64(k)
			if seq <= from.Seq() {
				continue
			}
			var env store.Envelope
			if err := json.Unmarshal(v, &env); err != nil {
				return flowerrors.NewRuntime("event.boltstore", "unmarshaling envelope", err)
			}
			out = append(out, &env)
			last = store.NewPosition(env.RecordedAt, seq)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, last, err
}
