package id

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

// ID is a 128-bit, lexicographically sortable identifier encoded as 16 bytes
// big-endian: [8 bytes ms_timestamp][8 bytes sequence].
type ID [16]byte

// Bytes returns the raw 16-byte representation.
func (i ID) Bytes() []byte { b := make([]byte, 16); copy(b, i[:]); return b }

// String returns a hex string.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// Compare returns -1, 0, 1 based on lexical comparison.
func (i ID) Compare(other ID) int { return bytes.Compare(i[:], other[:]) }

// NowMs returns current time in milliseconds since Unix epoch.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Generator produces monotonically increasing IDs per process.
type Generator struct {
	mu   sync.Mutex
	last int64
	seq  uint64
}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator { return &Generator{} }

// Next returns a new ID. A regressed clock is pinned to the last seen
// millisecond; a sequence overflow within one millisecond waits out the
// remainder of it.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	switch {
	case ms > g.last:
		g.last, g.seq = ms, 0
	case g.seq < math.MaxUint64:
		g.seq++
	default:
		for ms <= g.last {
			time.Sleep(time.Millisecond / 8)
			ms = NowMs()
		}
		g.last, g.seq = ms, 0
	}

	var out ID
	binary.BigEndian.PutUint64(out[0:8], uint64(g.last))
	binary.BigEndian.PutUint64(out[8:16], g.seq)
	return out
}

// NextKey returns the next ID rendered as "{prefix}-{hex}". Blob keys use this
// form so that keys within a bucket sort by creation time.
func (g *Generator) NextKey(prefix string) string {
	next := g.Next()
	if prefix == "" {
		return next.String()
	}
	return prefix + "-" + next.String()
}
