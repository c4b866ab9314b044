package bus

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/nnikolov3/audiopipe/internal/eventlog"
	pebblestore "github.com/nnikolov3/audiopipe/internal/storage/pebble"
	logpkg "github.com/nnikolov3/audiopipe/pkg/log"
)

// ErrPayloadTooLarge is returned by Publish when the payload exceeds the
// configured ceiling. Large artifacts belong in the blob store; events carry
// keys, not content.
var ErrPayloadTooLarge = errors.New("bus: payload exceeds ceiling")

// DefaultMaxPayloadBytes is the default publish ceiling.
const DefaultMaxPayloadBytes = 64 * 1024

// Options configures a Bus.
type Options struct {
	// MaxPayloadBytes caps published payloads. Defaults to 64 KiB.
	MaxPayloadBytes int
	// Policy governs redelivery backoff and the dead-letter threshold.
	Policy *RetryPolicy
}

// Bus provides publish/subscribe over the durable per-subject event logs.
// It delivers each record to exactly one member of a consumer group under a
// lease, tracks attempts durably, and dead-letters after the policy limit.
type Bus struct {
	db     *pebblestore.DB
	logger logpkg.Logger
	policy RetryPolicy

	maxPayload int
	nowMs      func() int64

	mu   sync.Mutex
	logs map[string]*eventlog.Log

	// claimMu serializes claim decisions between competing in-process
	// subscribers; the durable lease covers crash recovery.
	claimMu sync.Mutex
}

// New constructs a Bus over the provided database.
func New(db *pebblestore.DB, logger logpkg.Logger, opts Options) *Bus {
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("bus"))
	}
	pol := DefaultRetryPolicy()
	if opts.Policy != nil {
		pol = *opts.Policy
	}
	maxPayload := opts.MaxPayloadBytes
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadBytes
	}
	return &Bus{
		db:         db,
		logger:     logger,
		policy:     pol,
		maxPayload: maxPayload,
		nowMs:      func() int64 { return time.Now().UnixMilli() },
		logs:       map[string]*eventlog.Log{},
	}
}

// OpenLog returns the shared Log for a subject, opening it on first use.
func (b *Bus) OpenLog(subject string) (*eventlog.Log, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.logs[subject]; ok {
		return l, nil
	}
	l, err := eventlog.OpenLog(b.db, subject)
	if err != nil {
		return nil, err
	}
	b.logs[subject] = l
	return l, nil
}

// Publish appends the payload to the subject's log and returns the committed
// sequence. The record header carries the write timestamp (ms, 8 bytes BE)
// for replay and retention decisions.
func (b *Bus) Publish(ctx context.Context, subject string, payload []byte) (uint64, error) {
	if len(payload) > b.maxPayload {
		return 0, ErrPayloadTooLarge
	}
	l, err := b.OpenLog(subject)
	if err != nil {
		return 0, err
	}
	t0 := time.Now()
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(b.nowMs()))
	seqs, err := l.Append(ctx, []eventlog.AppendRecord{{Header: hdr[:], Payload: payload}})
	if err != nil {
		return 0, err
	}
	b.logger.With(
		logpkg.Str("subject", subject),
		logpkg.Int("bytes", len(payload)),
		logpkg.Uint64("seq", seqs[0]),
		logpkg.Int64("dur_ms", time.Since(t0).Milliseconds()),
	).Debug("bus.publish")
	return seqs[0], nil
}

// WriteTsFromHeader extracts the publish timestamp from a record header.
// Usable as an eventlog.HeaderTimestampExtractor for age-based trims.
func WriteTsFromHeader(header []byte) (int64, bool) {
	if len(header) < 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(header[:8])), true
}

// TrimOlderThan applies age-based retention to a subject's log using the
// publish timestamp carried in each record header.
func (b *Bus) TrimOlderThan(ctx context.Context, subject string, age time.Duration) (int, error) {
	l, err := b.OpenLog(subject)
	if err != nil {
		return 0, err
	}
	cutoff := b.nowMs() - age.Milliseconds()
	n, _, err := l.TrimOlderThan(ctx, cutoff, 2048, 0, WriteTsFromHeader)
	return n, err
}

// TrimToMaxBytes applies size-based retention to a subject's log.
func (b *Bus) TrimToMaxBytes(ctx context.Context, subject string, maxBytes int64) (int, error) {
	l, err := b.OpenLog(subject)
	if err != nil {
		return 0, err
	}
	return l.TrimToMaxBytes(ctx, maxBytes, 2048, 0)
}
