package config

import (
	"os"
	"testing"
)

func TestDefaultDataDirXDGOverride(t *testing.T) {
	original := os.Getenv("XDG_DATA_HOME")
	os.Setenv("XDG_DATA_HOME", "/custom/data")
	t.Cleanup(func() {
		if original != "" {
			os.Setenv("XDG_DATA_HOME", original)
		} else {
			os.Unsetenv("XDG_DATA_HOME")
		}
	})
	if got := DefaultDataDir(); got != "/custom/data/audiopipe" {
		t.Fatalf("expected XDG path, got %s", got)
	}
}

func TestDefaultDataDirNonEmpty(t *testing.T) {
	if DefaultDataDir() == "" {
		t.Fatal("expected non-empty data dir")
	}
}

func TestIsDir(t *testing.T) {
	if !isDir(".") {
		t.Fatal("cwd should be a dir")
	}
	if isDir("/non/existent/path/that/does/not/exist") {
		t.Fatal("missing path should not be a dir")
	}
}
