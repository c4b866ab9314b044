package blobstore

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/nnikolov3/audiopipe/internal/storage/pebble"
)

// ChunkSize is the maximum bytes stored per Pebble key. Large artifacts are
// split across chunk keys so a multi-megabyte PDF never produces a jumbo value.
const ChunkSize = 256 * 1024

var (
	// ErrKeyExists is returned by Put when the key already holds a blob.
	ErrKeyExists = errors.New("blobstore: key already exists")
	// ErrNotFound is returned by Get when no blob is stored under the key.
	ErrNotFound = errors.New("blobstore: blob not found")
	// ErrNoBucket is returned when the referenced bucket was never ensured.
	ErrNoBucket = errors.New("blobstore: bucket does not exist")
)

// Meta describes a stored blob.
type Meta struct {
	Size        int64
	Chunks      uint32
	CreatedAtMs int64
}

// Store is a bucketed write-once blob store backed by Pebble.
type Store struct {
	db    *pebblestore.DB
	nowMs func() int64
}

// New creates a Store over the provided database.
func New(db *pebblestore.DB) *Store {
	return &Store{db: db, nowMs: func() int64 { return time.Now().UnixMilli() }}
}

// EnsureBucket creates the bucket if absent. Idempotent.
func (s *Store) EnsureBucket(bucket string) error {
	if bucket == "" {
		return errors.New("blobstore: bucket name required")
	}
	ok, err := s.db.Has(keyBucket(bucket))
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.db.Set(keyBucket(bucket), []byte{})
}

// Put stores data under bucket/key. The write is committed atomically before
// Put returns. Reusing a key fails with ErrKeyExists; write-once is enforced,
// not assumed.
func (s *Store) Put(ctx context.Context, bucket, key string, data []byte) error {
	if err := s.requireBucket(bucket); err != nil {
		return err
	}
	metaKey := keyBlobMeta(bucket, key)
	exists, err := s.db.Has(metaKey)
	if err != nil {
		return err
	}
	if exists {
		return ErrKeyExists
	}

	b := s.db.NewBatch()
	defer b.Close()

	var idx uint32
	for off := 0; off < len(data); off += ChunkSize {
		end := off + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		if err := b.Set(keyBlobChunk(bucket, key, idx), data[off:end], nil); err != nil {
			return err
		}
		idx++
	}

	meta := encodeMeta(Meta{Size: int64(len(data)), Chunks: idx, CreatedAtMs: s.nowMs()})
	if err := b.Set(metaKey, meta, nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// Get returns the full blob content. ErrNotFound is distinct from I/O failure.
func (s *Store) Get(bucket, key string) ([]byte, error) {
	metaRaw, err := s.db.Get(keyBlobMeta(bucket, key))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	meta, ok := decodeMeta(metaRaw)
	if !ok {
		return nil, errors.New("blobstore: corrupt blob metadata")
	}

	out := make([]byte, 0, meta.Size)
	for i := uint32(0); i < meta.Chunks; i++ {
		chunk, err := s.db.Get(keyBlobChunk(bucket, key, i))
		if err != nil {
			if errors.Is(err, pebblestore.ErrNotFound) {
				return nil, errors.New("blobstore: missing chunk")
			}
			return nil, err
		}
		out = append(out, chunk...)
	}
	if int64(len(out)) != meta.Size {
		return nil, errors.New("blobstore: size mismatch")
	}
	return out, nil
}

// Stat returns blob metadata without reading content.
func (s *Store) Stat(bucket, key string) (Meta, error) {
	raw, err := s.db.Get(keyBlobMeta(bucket, key))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return Meta{}, ErrNotFound
		}
		return Meta{}, err
	}
	meta, ok := decodeMeta(raw)
	if !ok {
		return Meta{}, errors.New("blobstore: corrupt blob metadata")
	}
	return meta, nil
}

// Exists reports whether a blob is stored under bucket/key.
func (s *Store) Exists(bucket, key string) (bool, error) {
	return s.db.Has(keyBlobMeta(bucket, key))
}

// Delete removes a blob and all of its chunks. Operational tooling only; the
// pipeline itself never deletes what it wrote.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	low, hi := keyBlobSpan(bucket, key)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return err
	}
	defer iter.Close()

	b := s.db.NewBatch()
	defer b.Close()
	n := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		if err := b.Delete(iter.Key(), nil); err != nil {
			return err
		}
		n++
	}
	if n == 0 {
		return nil
	}
	return s.db.CommitBatch(ctx, b)
}

func (s *Store) requireBucket(bucket string) error {
	ok, err := s.db.Has(keyBucket(bucket))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoBucket
	}
	return nil
}

func encodeMeta(m Meta) []byte {
	b := make([]byte, 8+4+8)
	binary.BigEndian.PutUint64(b[0:8], uint64(m.Size))
	binary.BigEndian.PutUint32(b[8:12], m.Chunks)
	binary.BigEndian.PutUint64(b[12:20], uint64(m.CreatedAtMs))
	return b
}

func decodeMeta(b []byte) (Meta, bool) {
	if len(b) < 20 {
		return Meta{}, false
	}
	return Meta{
		Size:        int64(binary.BigEndian.Uint64(b[0:8])),
		Chunks:      binary.BigEndian.Uint32(b[8:12]),
		CreatedAtMs: int64(binary.BigEndian.Uint64(b[12:20])),
	}, true
}
