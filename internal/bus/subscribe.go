package bus

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/nnikolov3/audiopipe/internal/eventlog"
	logpkg "github.com/nnikolov3/audiopipe/pkg/log"
)

// Delivery is one leased record handed to a group member.
type Delivery struct {
	Subject  string
	Group    string
	Seq      uint64
	Payload  []byte
	Attempts uint32
	TsMs     int64
}

// Handler processes one delivery. A nil return acks; an error return nacks
// and schedules redelivery, unless wrapped with Permanent.
type Handler func(ctx context.Context, d Delivery) error

// SubscribeOptions tunes one subscribe loop.
type SubscribeOptions struct {
	// Lease is how long a claimed delivery stays invisible to other members
	// before the sweeper reclaims it. Defaults to 30s.
	Lease time.Duration
	// MaxInFlight caps concurrent handlers. Defaults to 4.
	MaxInFlight int
	// SweepInterval is how often expired leases are reclaimed. Defaults to 1s.
	SweepInterval time.Duration
	// PollInterval bounds the blocking tail wait. Defaults to 50ms.
	PollInterval time.Duration
}

func (o *SubscribeOptions) normalize() {
	if o.Lease <= 0 {
		o.Lease = 30 * time.Second
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 4
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps a handler error so the delivery dead-letters immediately
// instead of retrying. Used for schema violations and other terminal failures.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// lease is the durable claim record.
type lease struct {
	Group       string `json:"group"`
	ExpiresAtMs int64  `json:"expires_at_ms"`
	Attempts    uint32 `json:"attempts"`
}

// Subscribe runs a pull loop delivering subject records to the handler as a
// member of group. It blocks until ctx is canceled; in-flight handlers drain
// before it returns. Multiple Subscribe calls with the same subject/group
// compete for deliveries.
func (b *Bus) Subscribe(ctx context.Context, subject, group string, h Handler, opts SubscribeOptions) error {
	opts.normalize()
	l, err := b.OpenLog(subject)
	if err != nil {
		return err
	}
	logger := b.logger.With(logpkg.Str("subject", subject), logpkg.Str("group", group))

	sem := make(chan struct{}, opts.MaxInFlight)
	var wg sync.WaitGroup
	defer wg.Wait()

	lastSweep := time.Time{}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Since(lastSweep) >= opts.SweepInterval {
			if n, err := b.sweepExpiredLeases(ctx, subject, group); err != nil {
				logger.WithError(err).Warn("bus.sweep_failed")
			} else if n > 0 {
				logger.With(logpkg.Int("reclaimed", n)).Debug("bus.sweep")
			}
			lastSweep = time.Now()
		}

		d, ok, err := b.claimNext(ctx, l, subject, group, opts.Lease)
		if err != nil {
			return err
		}
		if !ok {
			l.WaitForAppend(opts.PollInterval)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// unclaimed lease expires and redelivers
			return ctx.Err()
		}
		wg.Add(1)
		go func(d Delivery) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := h(ctx, d); err != nil {
				if nerr := b.nack(ctx, subject, group, d.Seq, err); nerr != nil {
					logger.WithError(nerr).Error("bus.nack_failed", logpkg.Uint64("seq", d.Seq))
				}
				return
			}
			if aerr := b.ack(ctx, l, subject, group, d.Seq); aerr != nil {
				logger.WithError(aerr).Error("bus.ack_failed", logpkg.Uint64("seq", d.Seq))
			}
		}(d)
	}
}

// claimNext produces the next delivery for the group: a due retry if one is
// scheduled, otherwise the next unclaimed record past the claim cursor. The
// lease and cursor advance commit atomically, so a crash mid-claim either
// never claimed or holds a lease the sweeper will reclaim.
func (b *Bus) claimNext(ctx context.Context, l *eventlog.Log, subject, group string, leaseDur time.Duration) (Delivery, bool, error) {
	b.claimMu.Lock()
	defer b.claimMu.Unlock()

	if d, ok, err := b.claimDueRetry(ctx, l, subject, group, leaseDur); err != nil || ok {
		return d, ok, err
	}
	return b.claimFresh(ctx, l, subject, group, leaseDur)
}

func (b *Bus) claimDueRetry(ctx context.Context, l *eventlog.Log, subject, group string, leaseDur time.Duration) (Delivery, bool, error) {
	prefix := keyRetryPrefix(subject, group)
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return Delivery{}, false, err
	}
	defer iter.Close()
	if !iter.First() {
		return Delivery{}, false, nil
	}
	// due time is the first be8 segment after the prefix
	k := iter.Key()
	dueMs := int64(binary.BigEndian.Uint64(k[len(prefix) : len(prefix)+8]))
	if dueMs > b.nowMs() {
		return Delivery{}, false, nil
	}
	seq := seqFromSuffix(k)
	retryKey := append([]byte(nil), k...)

	items, _ := l.Read(eventlog.ReadOptions{Start: eventlog.TokenFromSeq(seq), Limit: 1})
	if len(items) == 0 || items[0].Seq != seq {
		// record trimmed away; drop the schedule
		batch := b.db.NewBatch()
		defer batch.Close()
		_ = batch.Delete(retryKey, nil)
		_ = batch.Delete(keyRetryNext(subject, group, seq), nil)
		if err := b.db.CommitBatch(ctx, batch); err != nil {
			return Delivery{}, false, err
		}
		return Delivery{}, false, nil
	}

	attempts := b.loadAttempts(subject, group, seq)
	batch := b.db.NewBatch()
	defer batch.Close()
	if err := b.writeLease(batch, subject, group, seq, attempts+1, leaseDur); err != nil {
		return Delivery{}, false, err
	}
	if err := batch.Delete(retryKey, nil); err != nil {
		return Delivery{}, false, err
	}
	if err := batch.Delete(keyRetryNext(subject, group, seq), nil); err != nil {
		return Delivery{}, false, err
	}
	if err := b.db.CommitBatch(ctx, batch); err != nil {
		return Delivery{}, false, err
	}
	ts, _ := WriteTsFromHeader(items[0].Header)
	return Delivery{Subject: subject, Group: group, Seq: seq, Payload: items[0].Payload, Attempts: attempts + 1, TsMs: ts}, true, nil
}

func (b *Bus) claimFresh(ctx context.Context, l *eventlog.Log, subject, group string, leaseDur time.Duration) (Delivery, bool, error) {
	var start eventlog.Token
	if raw, err := b.db.Get(keyClaim(subject, group)); err == nil && len(raw) >= 8 {
		start = eventlog.TokenFromSeq(binary.BigEndian.Uint64(raw[:8]) + 1)
	}
	items, _ := l.Read(eventlog.ReadOptions{Start: start, Limit: 1})
	if len(items) == 0 {
		return Delivery{}, false, nil
	}
	seq := items[0].Seq

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := b.writeLease(batch, subject, group, seq, 1, leaseDur); err != nil {
		return Delivery{}, false, err
	}
	var cur [8]byte
	binary.BigEndian.PutUint64(cur[:], seq)
	if err := batch.Set(keyClaim(subject, group), cur[:], nil); err != nil {
		return Delivery{}, false, err
	}
	if err := b.db.CommitBatch(ctx, batch); err != nil {
		return Delivery{}, false, err
	}
	ts, _ := WriteTsFromHeader(items[0].Header)
	return Delivery{Subject: subject, Group: group, Seq: seq, Payload: items[0].Payload, Attempts: 1, TsMs: ts}, true, nil
}

func (b *Bus) writeLease(batch *pebble.Batch, subject, group string, seq uint64, attempts uint32, leaseDur time.Duration) error {
	exp := b.nowMs() + leaseDur.Milliseconds()
	data, err := json.Marshal(lease{Group: group, ExpiresAtMs: exp, Attempts: attempts})
	if err != nil {
		return err
	}
	if err := batch.Set(keyLease(subject, group, seq), data, nil); err != nil {
		return err
	}
	return batch.Set(keyLeaseExp(subject, group, exp, seq), nil, nil)
}

func (b *Bus) loadAttempts(subject, group string, seq uint64) uint32 {
	if raw, err := b.db.Get(keyAttempts(subject, group, seq)); err == nil && len(raw) == 4 {
		return binary.BigEndian.Uint32(raw)
	}
	return 0
}

// ack clears delivery state and commits the group cursor. Idempotent: a
// second ack for the same seq finds no lease or pending retry and is a
// no-op. A pending retry can exist without a lease when the sweeper
// reclaimed an expired lease while the handler was still running.
func (b *Bus) ack(ctx context.Context, l *eventlog.Log, subject, group string, seq uint64) error {
	leaseRaw, leaseErr := b.db.Get(keyLease(subject, group, seq))
	nextRaw, nextErr := b.db.Get(keyRetryNext(subject, group, seq))
	if leaseErr != nil && nextErr != nil {
		return nil // already acked or dead-lettered
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	if leaseErr == nil {
		var ls lease
		_ = json.Unmarshal(leaseRaw, &ls)
		_ = batch.Delete(keyLease(subject, group, seq), nil)
		_ = batch.Delete(keyLeaseExp(subject, group, ls.ExpiresAtMs, seq), nil)
	}
	if nextErr == nil && len(nextRaw) == 8 {
		dueMs := int64(binary.BigEndian.Uint64(nextRaw))
		_ = batch.Delete(keyRetry(subject, group, dueMs, seq), nil)
	}
	_ = batch.Delete(keyAttempts(subject, group, seq), nil)
	_ = batch.Delete(keyRetryNext(subject, group, seq), nil)
	_ = batch.Delete(keyErr(subject, group, seq), nil)
	if err := b.db.CommitBatch(ctx, batch); err != nil {
		return err
	}
	return l.CommitCursor(group, eventlog.TokenFromSeq(seq))
}

// nack records the failure and either schedules redelivery with backoff or
// dead-letters when attempts are exhausted or the error is permanent.
func (b *Bus) nack(ctx context.Context, subject, group string, seq uint64, herr error) error {
	// ignore nacks for already dead-lettered deliveries
	if ok, _ := b.db.Has(keyDLQDone(subject, group, seq)); ok {
		return nil
	}

	var ls lease
	var haveLease bool
	if raw, err := b.db.Get(keyLease(subject, group, seq)); err == nil {
		haveLease = json.Unmarshal(raw, &ls) == nil
	}
	attempts := b.loadAttempts(subject, group, seq) + 1

	batch := b.db.NewBatch()
	defer batch.Close()
	var abuf [4]byte
	binary.BigEndian.PutUint32(abuf[:], attempts)
	_ = batch.Set(keyAttempts(subject, group, seq), abuf[:], nil)
	if herr != nil {
		_ = batch.Set(keyErr(subject, group, seq), []byte(herr.Error()), nil)
	}
	if haveLease {
		_ = batch.Delete(keyLease(subject, group, seq), nil)
		_ = batch.Delete(keyLeaseExp(subject, group, ls.ExpiresAtMs, seq), nil)
	}

	if isPermanent(herr) || attempts >= b.policy.MaxAttempts {
		if err := b.db.CommitBatch(ctx, batch); err != nil {
			return err
		}
		return b.deadLetter(ctx, subject, group, seq, attempts, herr)
	}

	retryAt := b.nowMs() + computeBackoff(b.policy, attempts).Milliseconds()
	_ = batch.Set(keyRetry(subject, group, retryAt, seq), nil, nil)
	var rbuf [8]byte
	binary.BigEndian.PutUint64(rbuf[:], uint64(retryAt))
	_ = batch.Set(keyRetryNext(subject, group, seq), rbuf[:], nil)
	return b.db.CommitBatch(ctx, batch)
}

// sweepExpiredLeases reclaims leases whose holders went silent: each expired
// lease is treated as a nack so the delivery retries or dead-letters.
func (b *Bus) sweepExpiredLeases(ctx context.Context, subject, group string) (int, error) {
	prefix := keyLeaseExpPrefix(subject, group)
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	now := b.nowMs()
	type expired struct {
		key []byte
		seq uint64
	}
	var due []expired
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		expMs := int64(binary.BigEndian.Uint64(k[len(prefix) : len(prefix)+8]))
		if expMs > now {
			break
		}
		due = append(due, expired{key: append([]byte(nil), k...), seq: seqFromSuffix(k)})
	}

	reclaimed := 0
	for _, e := range due {
		raw, err := b.db.Get(keyLease(subject, group, e.seq))
		if err != nil {
			// lease already cleared (acked); drop the stale index entry
			_ = b.db.Delete(e.key)
			continue
		}
		var ls lease
		if json.Unmarshal(raw, &ls) == nil && ls.ExpiresAtMs > now {
			// re-leased since the index entry was written
			_ = b.db.Delete(e.key)
			continue
		}
		if err := b.nack(ctx, subject, group, e.seq, errors.New("lease expired")); err != nil {
			return reclaimed, err
		}
		_ = b.db.Delete(e.key)
		reclaimed++
	}
	return reclaimed, nil
}
