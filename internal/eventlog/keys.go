package eventlog

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - log/{subject}/m
// - log/{subject}/e/{seq_be8}
// - cursor/{subject}/{group}

var (
	sep        = byte('/')
	logPrefix  = []byte("log/")
	curPrefix  = []byte("cursor/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyLogMeta builds the subject metadata key.
func KeyLogMeta(subject string) []byte {
	k := make([]byte, 0, len(subject)+8)
	k = append(k, logPrefix...)
	k = append(k, subject...)
	k = append(k, metaSuffix...)
	return k
}

// KeyLogEntry builds the entry key with a big-endian sequence for proper ordering.
func KeyLogEntry(subject string, seq uint64) []byte {
	k := make([]byte, 0, len(subject)+16)
	k = append(k, logPrefix...)
	k = append(k, subject...)
	k = append(k, entrySeg...)
	k = appendBE8(k, seq)
	return k
}

// seqFromEntryKey extracts the big-endian sequence suffix from an entry key.
func seqFromEntryKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(k)-8:])
}

// KeyCursor builds the durable cursor key for a consumer group.
func KeyCursor(subject, group string) []byte {
	k := make([]byte, 0, len(subject)+len(group)+10)
	k = append(k, curPrefix...)
	k = append(k, subject...)
	k = append(k, sep)
	k = append(k, group...)
	return k
}
