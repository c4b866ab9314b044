package correlate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nnikolov3/audiopipe/internal/event"
	pebblestore "github.com/nnikolov3/audiopipe/internal/storage/pebble"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func header(workflowID string) event.Header {
	return event.Header{
		EventID:     "ev-" + workflowID,
		WorkflowID:  workflowID,
		UserID:      "u-1",
		TenantID:    "t-1",
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

func TestFanInCompletesOnAllPages(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	h := header("wf-1")

	done, err := tr.Record(ctx, h, "transcode", 1, 3)
	if err != nil || done {
		t.Fatalf("page 1/3 should not complete: %v %v", done, err)
	}
	done, _ = tr.Record(ctx, h, "transcode", 3, 3)
	if done {
		t.Fatalf("page 3/3 with page 2 missing should not complete")
	}
	done, err = tr.Record(ctx, h, "transcode", 2, 3)
	if err != nil || !done {
		t.Fatalf("final page should complete: %v %v", done, err)
	}
}

func TestDuplicatePagesCountOnce(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	h := header("wf-dup")

	if done, _ := tr.Record(ctx, h, "transcode", 1, 2); done {
		t.Fatalf("1/2 complete too early")
	}
	// duplicate of page 1 must not complete the set
	if done, _ := tr.Record(ctx, h, "transcode", 1, 2); done {
		t.Fatalf("duplicate page completed the set")
	}
	st, err := tr.Status("wf-dup", 0)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Stages["transcode"].Done != 1 {
		t.Fatalf("duplicate counted twice: %+v", st.Stages["transcode"])
	}
	if done, _ := tr.Record(ctx, h, "transcode", 2, 2); !done {
		t.Fatalf("second distinct page should complete")
	}
	// a duplicate after completion still reports complete, so a caller
	// that crashed before its follow-up work can resume on redelivery
	if done, _ := tr.Record(ctx, h, "transcode", 2, 2); !done {
		t.Fatalf("completion lost on duplicate redelivery")
	}
	st, err = tr.Status("wf-dup", 0)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Stages["transcode"].Done != 2 {
		t.Fatalf("duplicate inflated the count: %+v", st.Stages["transcode"])
	}
}

func TestOutOfOrderPages(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	h := header("wf-ooo")
	order := []int{5, 2, 4, 1, 3}
	for i, p := range order {
		done, err := tr.Record(ctx, h, "extract", p, 5)
		if err != nil {
			t.Fatalf("record %d: %v", p, err)
		}
		if done != (i == len(order)-1) {
			t.Fatalf("completion at wrong point: page %d", p)
		}
	}
}

func TestStatusReportsPerStageProgress(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	h := header("wf-st")

	_, _ = tr.Record(ctx, h, "render", 1, 3)
	_, _ = tr.Record(ctx, h, "render", 2, 3)
	_, _ = tr.Record(ctx, h, "extract", 1, 3)

	st, err := tr.Status("wf-st", 0)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.TotalPages != 3 {
		t.Fatalf("total pages not learned: %d", st.TotalPages)
	}
	if st.Stages["render"].Done != 2 || st.Stages["extract"].Done != 1 {
		t.Fatalf("unexpected progress: %+v", st.Stages)
	}
	if st.Completed() {
		t.Fatalf("incomplete workflow reported completed")
	}
}

func TestMarkCompletedIdempotent(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	h := header("wf-c")
	if _, err := tr.Record(ctx, h, "transcode", 1, 1); err != nil {
		t.Fatalf("record: %v", err)
	}
	if ok, err := tr.Announced("wf-c"); err != nil || ok {
		t.Fatalf("announced before MarkCompleted: %v %v", ok, err)
	}
	if err := tr.MarkCompleted(ctx, "wf-c", "manifest-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	st, _ := tr.Status("wf-c", 0)
	first := st.CompletedAtMs
	if first == 0 || st.ManifestKey != "manifest-1" {
		t.Fatalf("completion not recorded: %+v", st)
	}
	if err := tr.MarkCompleted(ctx, "wf-c", "manifest-2"); err != nil {
		t.Fatalf("re-complete: %v", err)
	}
	st, _ = tr.Status("wf-c", 0)
	if st.CompletedAtMs != first || st.ManifestKey != "manifest-1" {
		t.Fatalf("completion overwritten: %+v", st)
	}
	if ok, err := tr.Announced("wf-c"); err != nil || !ok {
		t.Fatalf("announced flag lost: %v %v", ok, err)
	}
}

func TestStalledFlag(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	h := header("wf-stall")
	now := time.Now().UnixMilli()
	tr.nowMs = func() int64 { return now - 60_000 }
	if _, err := tr.Record(ctx, h, "render", 1, 2); err != nil {
		t.Fatalf("record: %v", err)
	}
	tr.nowMs = func() int64 { return now }
	st, err := tr.Status("wf-stall", 30*time.Second)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Stalled {
		t.Fatalf("expected stalled flag")
	}
}

func TestUnknownWorkflow(t *testing.T) {
	tr := newTestTracker(t)
	if _, err := tr.Status("missing", 0); !errors.Is(err, ErrUnknownWorkflow) {
		t.Fatalf("expected ErrUnknownWorkflow, got %v", err)
	}
}

func TestListWorkflows(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	_, _ = tr.Record(ctx, header("wf-a"), "render", 1, 1)
	_, _ = tr.Record(ctx, header("wf-b"), "render", 1, 1)
	out, err := tr.List(0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 workflows, got %d", len(out))
	}
}
