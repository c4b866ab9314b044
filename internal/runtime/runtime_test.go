package runtime

import (
	"context"
	"testing"
	"time"

	cfgpkg "github.com/nnikolov3/audiopipe/internal/config"
	"github.com/nnikolov3/audiopipe/internal/stages"
	logpkg "github.com/nnikolov3/audiopipe/pkg/log"
)

func testConfig(t *testing.T) cfgpkg.Config {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Bus.PollIntervalMs = 10
	cfg.Retention.SweepIntervalMs = 50
	return cfg
}

func openRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := Open(Options{
		Config: testConfig(t),
		Logger: logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel)),
	})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestOpenCloseHealth(t *testing.T) {
	rt := openRuntime(t)
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestOpenEnsuresBuckets(t *testing.T) {
	rt := openRuntime(t)
	for _, bucket := range stages.Buckets() {
		if err := rt.Store().Put(context.Background(), bucket, "probe-"+bucket, []byte("x")); err != nil {
			t.Fatalf("bucket %s not usable: %v", bucket, err)
		}
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fsync = "sometimes"
	if _, err := Open(Options{Config: cfg}); err == nil {
		t.Fatal("expected fsync config error")
	}
	cfg = testConfig(t)
	cfg.Retry.Backoff = "quadratic"
	if _, err := Open(Options{Config: cfg}); err == nil {
		t.Fatal("expected backoff config error")
	}
}

func TestPipelineStages(t *testing.T) {
	rt := openRuntime(t)
	sts := rt.PipelineStages()
	if len(sts) != 5 {
		t.Fatalf("expected 5 stages, got %d", len(sts))
	}
	want := []string{"render", "extract", "synthesize", "transcode", "assemble"}
	for i, st := range sts {
		if st.Name() != want[i] {
			t.Fatalf("stage %d: got %s, want %s", i, st.Name(), want[i])
		}
	}
}

func TestRunRejectsUnknownStage(t *testing.T) {
	rt := openRuntime(t)
	if err := rt.Run(context.Background(), "render", "mixdown"); err == nil {
		t.Fatal("expected unknown stage error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	rt := openRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	// let the workers and the sweeper spin up and idle
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
