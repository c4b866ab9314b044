package blobstore

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - bucket/{bucket}                      (bucket registry)
// - blob/{bucket}/{key}/m               (blob metadata)
// - blob/{bucket}/{key}/c/{idx_be4}     (content chunks)

var (
	bucketPrefix = []byte("bucket/")
	blobPrefix   = []byte("blob/")
	metaSuffix   = []byte("/m")
	chunkSeg     = []byte("/c/")
	sep          = byte('/')
)

func keyBucket(bucket string) []byte {
	k := make([]byte, 0, len(bucket)+8)
	k = append(k, bucketPrefix...)
	k = append(k, bucket...)
	return k
}

func keyBlobMeta(bucket, key string) []byte {
	k := make([]byte, 0, len(bucket)+len(key)+12)
	k = append(k, blobPrefix...)
	k = append(k, bucket...)
	k = append(k, sep)
	k = append(k, key...)
	k = append(k, metaSuffix...)
	return k
}

func keyBlobChunk(bucket, key string, idx uint32) []byte {
	k := make([]byte, 0, len(bucket)+len(key)+16)
	k = append(k, blobPrefix...)
	k = append(k, bucket...)
	k = append(k, sep)
	k = append(k, key...)
	k = append(k, chunkSeg...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], idx)
	return append(k, b[:]...)
}

// keyBlobSpan returns the [low, high) bounds covering all keys of one blob.
func keyBlobSpan(bucket, key string) ([]byte, []byte) {
	base := make([]byte, 0, len(bucket)+len(key)+10)
	base = append(base, blobPrefix...)
	base = append(base, bucket...)
	base = append(base, sep)
	base = append(base, key...)
	base = append(base, sep)
	hi := append(append([]byte(nil), base...), 0xFF)
	return base, hi
}
