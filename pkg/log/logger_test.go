package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(WarnLevel), WithOutput(NewWriterOutput(&buf)))
	l.Info("hidden")
	l.Warn("visible")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be gated: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("warn should pass: %s", out)
	}
}

func TestJSONFormatterFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithOutput(NewWriterOutput(&buf)))
	l.With(Str("subject", "pages.rendered"), Int("page", 3)).Info("published")

	var obj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &obj); err != nil {
		t.Fatalf("not json: %v (%s)", err, buf.String())
	}
	if obj["msg"] != "published" {
		t.Fatalf("msg = %v", obj["msg"])
	}
	if obj["subject"] != "pages.rendered" {
		t.Fatalf("subject = %v", obj["subject"])
	}
	if obj["level"] != "INFO" {
		t.Fatalf("level = %v", obj["level"])
	}
}

func TestTextFormatterSortsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormatter(&TextFormatter{}), WithOutput(NewWriterOutput(&buf)))
	l.Info("msg", Str("b", "2"), Str("a", "1"))
	out := buf.String()
	if strings.Index(out, "a=1") > strings.Index(out, "b=2") {
		t.Fatalf("fields not sorted: %s", out)
	}
}

func TestWithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(WithOutput(NewWriterOutput(&buf)))
	_ = parent.With(Str("child", "only"))
	parent.Info("from parent")
	if strings.Contains(buf.String(), "child") {
		t.Fatalf("parent logger picked up child field: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel("debug"); err != nil || lvl != DebugLevel {
		t.Fatalf("debug: %v %v", lvl, err)
	}
	if _, err := ParseLevel("shouting"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
