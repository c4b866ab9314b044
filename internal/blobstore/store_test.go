package blobstore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	pebblestore "github.com/nnikolov3/audiopipe/internal/storage/pebble"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := New(db)
	if err := s.EnsureBucket("pages"); err != nil {
		t.Fatalf("ensure bucket: %v", err)
	}
	return s
}

func TestPutGetRoundtrip(t *testing.T) {
	s := newTestStore(t)
	data := []byte("page one content")
	if err := s.Put(context.Background(), "pages", "doc-1-page-1", data); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get("pages", "doc-1-page-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("content mismatch")
	}
}

func TestPutWriteOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, "pages", "k", []byte("first")); err != nil {
		t.Fatalf("put: %v", err)
	}
	err := s.Put(ctx, "pages", "k", []byte("second"))
	if !errors.Is(err, ErrKeyExists) {
		t.Fatalf("expected ErrKeyExists, got %v", err)
	}
	// original content intact
	got, err := s.Get("pages", "k")
	if err != nil || string(got) != "first" {
		t.Fatalf("write-once violated: %q %v", got, err)
	}
}

func TestExists(t *testing.T) {
	s := newTestStore(t)
	if ok, err := s.Exists("pages", "k"); err != nil || ok {
		t.Fatalf("missing key reported present: %v %v", ok, err)
	}
	if err := s.Put(context.Background(), "pages", "k", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ok, err := s.Exists("pages", "k"); err != nil || !ok {
		t.Fatalf("stored key reported absent: %v %v", ok, err)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get("pages", "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutRequiresBucket(t *testing.T) {
	s := newTestStore(t)
	err := s.Put(context.Background(), "nope", "k", []byte("x"))
	if !errors.Is(err, ErrNoBucket) {
		t.Fatalf("expected ErrNoBucket, got %v", err)
	}
}

func TestEnsureBucketIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.EnsureBucket("pages"); err != nil {
		t.Fatalf("re-ensure: %v", err)
	}
}

func TestLargeBlobChunks(t *testing.T) {
	s := newTestStore(t)
	// 2.5 chunks worth of data
	data := make([]byte, ChunkSize*2+ChunkSize/2)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := s.Put(context.Background(), "pages", "big", data); err != nil {
		t.Fatalf("put: %v", err)
	}
	meta, err := s.Stat("pages", "big")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if meta.Chunks != 3 || meta.Size != int64(len(data)) {
		t.Fatalf("unexpected meta: chunks=%d size=%d", meta.Chunks, meta.Size)
	}
	got, err := s.Get("pages", "big")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("large content mismatch")
	}
}

func TestDeleteRemovesAllKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, "pages", "k", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Delete(ctx, "pages", "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get("pages", "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected gone, got %v", err)
	}
	// key is reusable after operational delete
	if err := s.Put(ctx, "pages", "k", []byte("y")); err != nil {
		t.Fatalf("re-put: %v", err)
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	s := newTestStore(t)
	if err := s.Delete(context.Background(), "pages", "absent"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}
