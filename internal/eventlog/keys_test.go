package eventlog

import (
	"bytes"
	"testing"
)

func TestKeyOrderingEntries(t *testing.T) {
	a := KeyLogEntry("pages.rendered", 10)
	b := KeyLogEntry("pages.rendered", 11)
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("expected seq 10 < seq 11")
	}
	if seqFromEntryKey(a) != 10 {
		t.Fatalf("seq roundtrip failed")
	}
}

func TestCursorKey(t *testing.T) {
	k := KeyCursor("pages.rendered", "extract")
	if !bytes.Equal(k, []byte("cursor/pages.rendered/extract")) {
		t.Fatalf("unexpected cursor layout: %q", string(k))
	}
}

func TestMetaKey(t *testing.T) {
	k := KeyLogMeta("pages.rendered")
	if !bytes.Equal(k, []byte("log/pages.rendered/m")) {
		t.Fatalf("unexpected meta layout: %q", string(k))
	}
}
