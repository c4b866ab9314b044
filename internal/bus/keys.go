package bus

import (
	"encoding/binary"
)

// Delivery-state keyspace, alongside the eventlog keys in the same Pebble DB:
// - claim/{subject}/{group}                          (next-to-claim cursor)
// - lease/{subject}/{group}/{seq_be8}               (active lease, JSON)
// - leaseexp/{subject}/{group}/{exp_be8}/{seq_be8}  (lease expiry index)
// - attempts/{subject}/{group}/{seq_be8}            (delivery attempts, u32)
// - retry/{subject}/{group}/{due_be8}/{seq_be8}     (retry due index)
// - retrynext/{subject}/{group}/{seq_be8}           (scheduled retry time, ms)
// - dlqdone/{subject}/{group}/{seq_be8}             (dead-letter time, ms)
// - err/{subject}/{group}/{seq_be8}                 (last handler error)

var (
	sep            = byte('/')
	claimPrefix    = []byte("claim/")
	leasePrefix    = []byte("lease/")
	leaseExpPrefix = []byte("leaseexp/")
	attemptsPrefix = []byte("attempts/")
	retryPrefix    = []byte("retry/")
	retryNextPfx   = []byte("retrynext/")
	dlqDonePrefix  = []byte("dlqdone/")
	errPrefix      = []byte("err/")
)

func appendGroupScope(dst []byte, subject, group string) []byte {
	dst = append(dst, subject...)
	dst = append(dst, sep)
	dst = append(dst, group...)
	return dst
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func keyClaim(subject, group string) []byte {
	k := append([]byte(nil), claimPrefix...)
	return appendGroupScope(k, subject, group)
}

func keyLease(subject, group string, seq uint64) []byte {
	k := append([]byte(nil), leasePrefix...)
	k = appendGroupScope(k, subject, group)
	k = append(k, sep)
	return appendBE8(k, seq)
}

func keyLeaseExp(subject, group string, expMs int64, seq uint64) []byte {
	k := append([]byte(nil), leaseExpPrefix...)
	k = appendGroupScope(k, subject, group)
	k = append(k, sep)
	k = appendBE8(k, uint64(expMs))
	k = append(k, sep)
	return appendBE8(k, seq)
}

func keyLeaseExpPrefix(subject, group string) []byte {
	k := append([]byte(nil), leaseExpPrefix...)
	k = appendGroupScope(k, subject, group)
	return append(k, sep)
}

func keyAttempts(subject, group string, seq uint64) []byte {
	k := append([]byte(nil), attemptsPrefix...)
	k = appendGroupScope(k, subject, group)
	k = append(k, sep)
	return appendBE8(k, seq)
}

func keyRetry(subject, group string, dueMs int64, seq uint64) []byte {
	k := append([]byte(nil), retryPrefix...)
	k = appendGroupScope(k, subject, group)
	k = append(k, sep)
	k = appendBE8(k, uint64(dueMs))
	k = append(k, sep)
	return appendBE8(k, seq)
}

func keyRetryPrefix(subject, group string) []byte {
	k := append([]byte(nil), retryPrefix...)
	k = appendGroupScope(k, subject, group)
	return append(k, sep)
}

func keyRetryNext(subject, group string, seq uint64) []byte {
	k := append([]byte(nil), retryNextPfx...)
	k = appendGroupScope(k, subject, group)
	k = append(k, sep)
	return appendBE8(k, seq)
}

func keyDLQDone(subject, group string, seq uint64) []byte {
	k := append([]byte(nil), dlqDonePrefix...)
	k = appendGroupScope(k, subject, group)
	k = append(k, sep)
	return appendBE8(k, seq)
}

func keyErr(subject, group string, seq uint64) []byte {
	k := append([]byte(nil), errPrefix...)
	k = appendGroupScope(k, subject, group)
	k = append(k, sep)
	return appendBE8(k, seq)
}

func seqFromSuffix(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(k)-8:])
}

// prefixUpperBound returns the tightest key strictly greater than every key
// with the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
