package dedup

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/nnikolov3/audiopipe/internal/storage/pebble"
)

// Keyspace:
// - dedup/{group}/{event_id} (processed-at ms)

var dedupPrefix = []byte("dedup/")

func key(group, eventID string) []byte {
	k := make([]byte, 0, len(group)+len(eventID)+8)
	k = append(k, dedupPrefix...)
	k = append(k, group...)
	k = append(k, '/')
	k = append(k, eventID...)
	return k
}

// Set is a durable processed-event set per consumer group. A stage worker
// checks Seen before transforming and marks after its successor publish
// succeeds, so a redelivered, already-processed event acks without side
// effects.
type Set struct {
	db    *pebblestore.DB
	nowMs func() int64
}

// New creates a Set over the provided database.
func New(db *pebblestore.DB) *Set {
	return &Set{db: db, nowMs: func() int64 { return time.Now().UnixMilli() }}
}

// Seen reports whether the event was already processed by the group.
func (s *Set) Seen(group, eventID string) (bool, error) {
	_, err := s.db.Get(key(group, eventID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkProcessed records the event as processed by the group.
func (s *Set) MarkProcessed(ctx context.Context, group, eventID string) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(s.nowMs()))
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key(group, eventID), buf[:], nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// TrimOlderThan removes entries processed before the cutoff. Batched like the
// event log trims. Returns the number of removed entries.
func (s *Set) TrimOlderThan(ctx context.Context, cutoffMs int64, batchLimit int) (int, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	low := dedupPrefix
	hi := append(append([]byte(nil), dedupPrefix...), 0xFF)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	for ok := iter.First(); ok; {
		b := s.db.NewBatch()
		n := 0
		for ok && n < batchLimit {
			if len(iter.Value()) >= 8 {
				ms := int64(binary.BigEndian.Uint64(iter.Value()[:8]))
				if ms < cutoffMs {
					if err := b.Delete(iter.Key(), nil); err != nil {
						b.Close()
						return deleted, err
					}
					deleted++
					n++
				}
			}
			ok = iter.Next()
		}
		if n > 0 {
			if err := s.db.CommitBatch(ctx, b); err != nil {
				b.Close()
				return deleted, err
			}
		}
		b.Close()
	}
	return deleted, nil
}
