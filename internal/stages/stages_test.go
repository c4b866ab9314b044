package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nnikolov3/audiopipe/internal/blobstore"
	"github.com/nnikolov3/audiopipe/internal/bus"
	"github.com/nnikolov3/audiopipe/internal/correlate"
	"github.com/nnikolov3/audiopipe/internal/dedup"
	"github.com/nnikolov3/audiopipe/internal/event"
	"github.com/nnikolov3/audiopipe/internal/eventlog"
	pebblestore "github.com/nnikolov3/audiopipe/internal/storage/pebble"
	"github.com/nnikolov3/audiopipe/internal/worker"
	"github.com/nnikolov3/audiopipe/pkg/id"
	logpkg "github.com/nnikolov3/audiopipe/pkg/log"
)

// funcTool fakes an external converter.
type funcTool struct {
	name string
	fn   func(input []byte) ([]byte, error)
}

func (t *funcTool) Name() string { return t.name }
func (t *funcTool) Transform(ctx context.Context, input []byte) ([]byte, error) {
	return t.fn(input)
}

func prefixTool(name string) *funcTool {
	return &funcTool{name: name, fn: func(input []byte) ([]byte, error) {
		return append([]byte(name+":"), input...), nil
	}}
}

type pipelineEnv struct {
	db    *pebblestore.DB
	bus   *bus.Bus
	store *blobstore.Store
	dedup *dedup.Set
	deps  *Deps
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	pol := bus.RetryPolicy{Type: bus.BackoffNone, MaxAttempts: 3}
	b := bus.New(db, nil, bus.Options{Policy: &pol})
	store := blobstore.New(db)
	for _, bucket := range Buckets() {
		if err := store.EnsureBucket(bucket); err != nil {
			t.Fatalf("bucket %s: %v", bucket, err)
		}
	}
	deps := &Deps{
		Bus:        b,
		Store:      store,
		Keys:       id.NewGenerator(),
		Tracker:    correlate.New(db),
		Logger:     logpkg.NewLogger(logpkg.WithLevel(logpkg.ErrorLevel)),
		FetchDelay: 10 * time.Millisecond,
	}
	return &pipelineEnv{db: db, bus: b, store: store, dedup: dedup.New(db), deps: deps}
}

func runStage(t *testing.T, env *pipelineEnv, st worker.Stage) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := worker.New(env.bus, env.dedup, nil)
	go func() {
		defer close(done)
		_ = w.Run(ctx, st, bus.SubscribeOptions{SweepInterval: 20 * time.Millisecond})
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Errorf("stage %s did not stop", st.Name())
		}
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func newHeader(workflowID string) event.Header {
	return event.Header{
		EventID:     uuid.NewString(),
		WorkflowID:  workflowID,
		UserID:      "u-1",
		TenantID:    "t-1",
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

func readEvents(t *testing.T, env *pipelineEnv, subject string) []event.Event {
	t.Helper()
	l, err := env.bus.OpenLog(subject)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	items, _ := l.Read(eventlog.ReadOptions{})
	out := make([]event.Event, 0, len(items))
	for _, it := range items {
		_, ev, err := event.Decode(it.Payload)
		if err != nil {
			t.Fatalf("decode %s seq %d: %v", subject, it.Seq, err)
		}
		out = append(out, ev)
	}
	return out
}

func TestExtractEmitsSuccessor(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	if err := env.store.Put(ctx, BucketPages, "img-1", []byte("pixels")); err != nil {
		t.Fatalf("put: %v", err)
	}
	st := NewExtract(env.deps, prefixTool("ocr"))
	h := newHeader("wf-1")
	if err := st.Process(ctx, h, &event.PageRendered{ImageKey: "img-1", PageNumber: 1, TotalPages: 2}); err != nil {
		t.Fatalf("process: %v", err)
	}

	evs := readEvents(t, env, event.SubjectPagesExtracted)
	if len(evs) != 1 {
		t.Fatalf("expected 1 successor, got %d", len(evs))
	}
	pe := evs[0].(*event.PageExtracted)
	if pe.PageNumber != 1 || pe.TotalPages != 2 {
		t.Fatalf("page identity lost: %+v", pe)
	}
	text, err := env.store.Get(BucketText, pe.TextKey)
	if err != nil {
		t.Fatalf("result blob: %v", err)
	}
	if string(text) != "ocr:pixels" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestStageRejectsWrongPayload(t *testing.T) {
	env := newPipelineEnv(t)
	st := NewExtract(env.deps, prefixTool("ocr"))
	err := st.Process(context.Background(), newHeader("wf-x"), &event.SourceCreated{SourceBucket: "b", SourceKey: "k", MediaType: "application/pdf"})
	var verr *event.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestMissingBlobFailsDelivery(t *testing.T) {
	env := newPipelineEnv(t)
	env.deps.FetchProbes = 2
	st := NewExtract(env.deps, prefixTool("ocr"))
	err := st.Process(context.Background(), newHeader("wf-x"), &event.PageRendered{ImageKey: "never-written", PageNumber: 1, TotalPages: 1})
	if err == nil {
		t.Fatalf("expected fetch failure")
	}
	var verr *event.ValidationError
	if errors.As(err, &verr) {
		t.Fatalf("missing blob should be retryable, not terminal")
	}
}

func TestPipelineThreePagesRoundTrip(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	runStage(t, env, NewExtract(env.deps, prefixTool("ocr")))
	runStage(t, env, NewSynthesize(env.deps, prefixTool("tts")))
	runStage(t, env, NewTranscode(env.deps, prefixTool("opus")))
	runStage(t, env, NewAssemble(env.deps))

	const pages = 3
	h := newHeader("wf-roundtrip")
	for p := 1; p <= pages; p++ {
		key := fmt.Sprintf("img-%d", p)
		if err := env.store.Put(ctx, BucketPages, key, []byte(fmt.Sprintf("page-%d", p))); err != nil {
			t.Fatalf("put image: %v", err)
		}
		ph := h
		ph.EventID = uuid.NewString()
		payload, err := event.Encode(ph, event.PageRendered{ImageKey: key, PageNumber: p, TotalPages: pages})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if _, err := env.bus.Publish(ctx, event.SubjectPagesRendered, payload); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	waitFor(t, 30*time.Second, func() bool {
		return len(readEvents(t, env, event.SubjectWorkflowsCompleted)) == 1
	})
	wc := readEvents(t, env, event.SubjectWorkflowsCompleted)[0].(*event.WorkflowCompleted)
	if wc.TotalPages != pages {
		t.Fatalf("unexpected completion: %+v", wc)
	}

	data, err := env.store.Get(BucketManifests, wc.ManifestKey)
	if err != nil {
		t.Fatalf("manifest blob: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("manifest decode: %v", err)
	}
	if m.WorkflowID != "wf-roundtrip" || len(m.Pages) != pages {
		t.Fatalf("bad manifest: %+v", m)
	}
	for i, mp := range m.Pages {
		if mp.PageNumber != i+1 {
			t.Fatalf("manifest out of order: %+v", m.Pages)
		}
		audio, err := env.store.Get(BucketAudio, mp.AudioKey)
		if err != nil {
			t.Fatalf("audio for page %d: %v", mp.PageNumber, err)
		}
		want := fmt.Sprintf("opus:tts:ocr:page-%d", mp.PageNumber)
		if string(audio) != want {
			t.Fatalf("page %d audio %q, want %q", mp.PageNumber, audio, want)
		}
	}
}

func TestAssembleFailsWhenAudioBlobMissing(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()
	st := NewAssemble(env.deps)
	h := newHeader("wf-miss")

	err := st.Process(ctx, h, &event.AudioTranscoded{AudioKey: "audio-1", PageNumber: 1, TotalPages: 1})
	if err == nil {
		t.Fatal("expected error for missing audio blob")
	}
	evs := readEvents(t, env, event.SubjectWorkflowsCompleted)
	if len(evs) != 0 {
		t.Fatalf("completion announced despite missing blob: %d", len(evs))
	}
}

func TestRenderRejectsUnreadableSource(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()

	if err := env.store.Put(ctx, BucketSources, "src-1", []byte("not a pdf")); err != nil {
		t.Fatalf("put: %v", err)
	}
	st := NewRender(env.deps, prefixTool("raster"))
	err := st.Process(ctx, newHeader("wf-r"), &event.SourceCreated{
		SourceBucket: BucketSources,
		SourceKey:    "src-1",
		MediaType:    "application/pdf",
	})
	var verr *event.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for garbage input, got %v", err)
	}
}

func TestAssembleCompletesOnceDespiteDuplicates(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()
	st := NewAssemble(env.deps)
	h := newHeader("wf-a")

	for p := 1; p <= 2; p++ {
		if err := env.store.Put(ctx, BucketAudio, fmt.Sprintf("audio-%d", p), []byte("opus")); err != nil {
			t.Fatalf("put audio %d: %v", p, err)
		}
	}
	for _, p := range []int{2, 1, 2} { // out of order with a duplicate
		ph := h
		ph.EventID = uuid.NewString()
		if err := st.Process(ctx, ph, &event.AudioTranscoded{AudioKey: fmt.Sprintf("audio-%d", p), PageNumber: p, TotalPages: 2}); err != nil {
			t.Fatalf("process p%d: %v", p, err)
		}
	}
	evs := readEvents(t, env, event.SubjectWorkflowsCompleted)
	if len(evs) != 1 {
		t.Fatalf("expected exactly one completion, got %d", len(evs))
	}
}

func TestAssembleAnnouncesAfterFailedPublish(t *testing.T) {
	env := newPipelineEnv(t)
	ctx := context.Background()
	h := newHeader("wf-replay")

	for p := 1; p <= 2; p++ {
		if err := env.store.Put(ctx, BucketAudio, fmt.Sprintf("audio-%d", p), []byte("opus")); err != nil {
			t.Fatalf("put audio %d: %v", p, err)
		}
	}

	// a bus that rejects every publish, standing in for a crash between
	// recording the final page and announcing completion
	pol := bus.RetryPolicy{Type: bus.BackoffNone, MaxAttempts: 3}
	choked := *env.deps
	choked.Bus = bus.New(env.db, nil, bus.Options{MaxPayloadBytes: 1, Policy: &pol})
	st := NewAssemble(&choked)

	ev := func(p int) *event.AudioTranscoded {
		return &event.AudioTranscoded{AudioKey: fmt.Sprintf("audio-%d", p), PageNumber: p, TotalPages: 2}
	}
	if err := st.Process(ctx, h, ev(1)); err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if err := st.Process(ctx, h, ev(2)); err == nil {
		t.Fatalf("expected publish failure on the final page")
	}

	// redelivery of the final page on a healthy bus announces the workflow
	healthy := NewAssemble(env.deps)
	if err := healthy.Process(ctx, h, ev(2)); err != nil {
		t.Fatalf("replay: %v", err)
	}
	evs := readEvents(t, env, event.SubjectWorkflowsCompleted)
	if len(evs) != 1 {
		t.Fatalf("expected one completion after replay, got %d", len(evs))
	}
	// further duplicates stay quiet
	if err := healthy.Process(ctx, h, ev(2)); err != nil {
		t.Fatalf("duplicate after announce: %v", err)
	}
	evs = readEvents(t, env, event.SubjectWorkflowsCompleted)
	if len(evs) != 1 {
		t.Fatalf("expected completion to stay announced once, got %d", len(evs))
	}
}
