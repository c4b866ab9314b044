package eventlog

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble"
)

// Token encodes a log position as seq (8 bytes big-endian).
type Token [8]byte

// TokenFromSeq builds a Token for the given sequence.
func TokenFromSeq(seq uint64) Token {
	var t Token
	binary.BigEndian.PutUint64(t[:], seq)
	return t
}

// Seq returns the sequence the token encodes.
func (t Token) Seq() uint64 { return binary.BigEndian.Uint64(t[:]) }

type ReadOptions struct {
	Start   Token // if zero, begin from the first entry
	Limit   int
	Reverse bool
}

type Item struct {
	Seq     uint64
	Header  []byte
	Payload []byte
}

// Read returns up to Limit items starting at Start (inclusive). Reverse scans
// descending from Start (or from the tail when Start is zero). The returned
// token is the next position a follow-up Read should start from.
func (l *Log) Read(opts ReadOptions) ([]Item, Token) {
	startSeq := opts.Start.Seq()
	low := KeyLogEntry(l.subject, 0)
	hi := KeyLogEntry(l.subject, ^uint64(0))

	items := make([]Item, 0, maxInt(1, opts.Limit))
	var next Token

	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return items, next
	}
	defer iter.Close()

	var ok bool
	if opts.Reverse {
		if startSeq == 0 {
			ok = iter.Last()
		} else {
			ok = iter.SeekLT(KeyLogEntry(l.subject, startSeq+1))
		}
		for ok && (opts.Limit <= 0 || len(items) < opts.Limit) {
			seq := seqFromEntryKey(iter.Key())
			if dec, okDec := DecodeRecord(iter.Value()); okDec {
				items = append(items, Item{Seq: seq, Header: dec.Header, Payload: dec.Payload})
			}
			ok = iter.Prev()
		}
		if ok {
			next = TokenFromSeq(seqFromEntryKey(iter.Key()))
		}
		return items, next
	}

	if startSeq == 0 {
		ok = iter.First()
	} else {
		ok = iter.SeekGE(KeyLogEntry(l.subject, startSeq))
	}
	for ok && (opts.Limit <= 0 || len(items) < opts.Limit) {
		seq := seqFromEntryKey(iter.Key())
		if dec, okDec := DecodeRecord(iter.Value()); okDec {
			items = append(items, Item{Seq: seq, Header: dec.Header, Payload: dec.Payload})
		}
		ok = iter.Next()
	}
	if ok {
		next = TokenFromSeq(seqFromEntryKey(iter.Key()))
	}
	return items, next
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
