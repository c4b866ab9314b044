// Package blobstore provides bucketed, write-once, key-addressed artifact
// storage over Pebble.
//
// Blobs are chunked at 256 KiB per key:
//   - bucket/{bucket}                  (bucket registry)
//   - blob/{bucket}/{key}/m           (metadata: size, chunks, createdAtMs)
//   - blob/{bucket}/{key}/c/{idx_be4} (content chunks)
//
// Put commits atomically and enforces write-once: a second Put for the same
// key fails with ErrKeyExists instead of overwriting. Get returns ErrNotFound
// when the key holds nothing, distinct from any I/O failure, so callers can
// tell "not yet visible" apart from "broken".
package blobstore
