package correlate

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/nnikolov3/audiopipe/internal/event"
	pebblestore "github.com/nnikolov3/audiopipe/internal/storage/pebble"
)

// Keyspace:
// - wf/{workflow_id}/meta             (JSON workflow metadata)
// - wf/{workflow_id}/stage/{stage}    (page bitmap)
// - wf/{workflow_id}/page/{page_be4}  (per-page result key, assembly input)

var (
	wfPrefix = []byte("wf/")
	metaSeg  = []byte("/meta")
	stageSeg = []byte("/stage/")
	pageSeg  = []byte("/page/")
)

func keyMeta(workflowID string) []byte {
	k := make([]byte, 0, len(workflowID)+10)
	k = append(k, wfPrefix...)
	k = append(k, workflowID...)
	k = append(k, metaSeg...)
	return k
}

func keyStage(workflowID, stage string) []byte {
	k := make([]byte, 0, len(workflowID)+len(stage)+12)
	k = append(k, wfPrefix...)
	k = append(k, workflowID...)
	k = append(k, stageSeg...)
	k = append(k, stage...)
	return k
}

func keyPage(workflowID string, page int) []byte {
	k := make([]byte, 0, len(workflowID)+14)
	k = append(k, wfPrefix...)
	k = append(k, workflowID...)
	k = append(k, pageSeg...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(page))
	return append(k, b[:]...)
}

// ErrUnknownWorkflow is returned by Status for a workflow never observed.
var ErrUnknownWorkflow = errors.New("correlate: unknown workflow")

type meta struct {
	WorkflowID    string `json:"workflow_id"`
	UserID        string `json:"user_id"`
	TenantID      string `json:"tenant_id"`
	TotalPages    int    `json:"total_pages"`
	CreatedAtMs   int64  `json:"created_at_ms"`
	UpdatedAtMs   int64  `json:"updated_at_ms"`
	CompletedAtMs int64  `json:"completed_at_ms,omitempty"`
	ManifestKey   string `json:"manifest_key,omitempty"`
}

// StageProgress is observed page completion for one stage of a workflow.
type StageProgress struct {
	Done  int
	Total int
}

// Status is the reconstructed state of one workflow.
type Status struct {
	WorkflowID    string
	UserID        string
	TenantID      string
	TotalPages    int
	CreatedAtMs   int64
	UpdatedAtMs   int64
	CompletedAtMs int64
	ManifestKey   string
	Stalled       bool
	Stages        map[string]StageProgress
}

// Completed reports whether the workflow finished assembly.
func (s Status) Completed() bool { return s.CompletedAtMs > 0 }

// Tracker reconstructs workflow state from events alone: a durable page
// bitmap per stage plus workflow metadata. Out-of-order and duplicate pages
// are absorbed; each page counts at most once.
type Tracker struct {
	db    *pebblestore.DB
	nowMs func() int64

	// mu serializes read-modify-write of the bitmaps across concurrent
	// stage handlers in this process.
	mu sync.Mutex
}

// New creates a Tracker over the provided database.
func New(db *pebblestore.DB) *Tracker {
	return &Tracker{db: db, nowMs: func() int64 { return time.Now().UnixMilli() }}
}

// Record marks page (1-based) of total as observed at the stage. It returns
// true whenever the stage's page set is complete, including on duplicate
// observations, so a caller that crashed between completion and its
// follow-up work sees completion again on replay. Callers that must act
// exactly once gate on MarkCompleted.
func (t *Tracker) Record(ctx context.Context, h event.Header, stage string, page, total int) (bool, error) {
	if page < 1 || total < 1 || page > total {
		return false, &event.ValidationError{Field: "page_number", Reason: "out of bounds"}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	m, err := t.loadMeta(h.WorkflowID)
	if err != nil {
		if !errors.Is(err, ErrUnknownWorkflow) {
			return false, err
		}
		m = meta{WorkflowID: h.WorkflowID, UserID: h.UserID, TenantID: h.TenantID, CreatedAtMs: h.CreatedAtMs}
	}
	if m.TotalPages == 0 {
		m.TotalPages = total
	}
	m.UpdatedAtMs = t.nowMs()

	bm, _ := t.db.Get(keyStage(h.WorkflowID, stage))
	need := (total + 7) / 8
	if len(bm) < need {
		grown := make([]byte, need)
		copy(grown, bm)
		bm = grown
	}
	idx, bit := (page-1)/8, byte(1)<<uint((page-1)%8)
	bm[idx] |= bit
	complete := countBits(bm) >= total

	b := t.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyStage(h.WorkflowID, stage), bm, nil); err != nil {
		return false, err
	}
	mdata, err := json.Marshal(m)
	if err != nil {
		return false, err
	}
	if err := b.Set(keyMeta(h.WorkflowID), mdata, nil); err != nil {
		return false, err
	}
	if err := t.db.CommitBatch(ctx, b); err != nil {
		return false, err
	}
	return complete, nil
}

// Announced reports whether the workflow's completion has been durably
// recorded by MarkCompleted. Unknown workflows report false.
func (t *Tracker) Announced(workflowID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, err := t.loadMeta(workflowID)
	if err != nil {
		if errors.Is(err, ErrUnknownWorkflow) {
			return false, nil
		}
		return false, err
	}
	return m.CompletedAtMs > 0, nil
}

// Touch records workflow metadata without page progress (the single
// documents.created event).
func (t *Tracker) Touch(ctx context.Context, h event.Header) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, err := t.loadMeta(h.WorkflowID)
	if err != nil {
		if !errors.Is(err, ErrUnknownWorkflow) {
			return err
		}
		m = meta{WorkflowID: h.WorkflowID, UserID: h.UserID, TenantID: h.TenantID, CreatedAtMs: h.CreatedAtMs}
	}
	m.UpdatedAtMs = t.nowMs()
	mdata, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return t.db.Set(keyMeta(h.WorkflowID), mdata)
}

// MarkCompleted records the assembled manifest for the workflow.
func (t *Tracker) MarkCompleted(ctx context.Context, workflowID, manifestKey string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, err := t.loadMeta(workflowID)
	if err != nil {
		return err
	}
	if m.CompletedAtMs > 0 {
		return nil
	}
	m.CompletedAtMs = t.nowMs()
	m.UpdatedAtMs = m.CompletedAtMs
	m.ManifestKey = manifestKey
	mdata, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return t.db.Set(keyMeta(workflowID), mdata)
}

// Status reconstructs per-stage progress for one workflow. A workflow that is
// not completed and has seen no event for stalledAfter is flagged stalled.
func (t *Tracker) Status(workflowID string, stalledAfter time.Duration) (Status, error) {
	m, err := t.loadMeta(workflowID)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		WorkflowID:    m.WorkflowID,
		UserID:        m.UserID,
		TenantID:      m.TenantID,
		TotalPages:    m.TotalPages,
		CreatedAtMs:   m.CreatedAtMs,
		UpdatedAtMs:   m.UpdatedAtMs,
		CompletedAtMs: m.CompletedAtMs,
		ManifestKey:   m.ManifestKey,
		Stages:        map[string]StageProgress{},
	}
	for _, stage := range Stages() {
		bm, err := t.db.Get(keyStage(workflowID, stage))
		if err != nil {
			continue
		}
		st.Stages[stage] = StageProgress{Done: countBits(bm), Total: m.TotalPages}
	}
	if stalledAfter > 0 && !st.Completed() && t.nowMs()-m.UpdatedAtMs > stalledAfter.Milliseconds() {
		st.Stalled = true
	}
	return st, nil
}

// List returns the status of up to limit known workflows.
func (t *Tracker) List(stalledAfter time.Duration, limit int) ([]Status, error) {
	hi := append(append([]byte(nil), wfPrefix...), 0xFF)
	iter, err := t.db.NewIter(&pebble.IterOptions{LowerBound: wfPrefix, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Status
	for ok := iter.First(); ok; ok = iter.Next() {
		k := string(iter.Key())
		if !strings.HasSuffix(k, string(metaSeg)) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, string(wfPrefix)), string(metaSeg))
		st, err := t.Status(id, stalledAfter)
		if err != nil {
			continue
		}
		out = append(out, st)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SetPageKey durably maps a page to its result blob key. Last write wins.
func (t *Tracker) SetPageKey(ctx context.Context, workflowID string, page int, key string) error {
	return t.db.Set(keyPage(workflowID, page), []byte(key))
}

// PageKeys returns the recorded result key per page, indexed page-1. Missing
// pages are empty strings.
func (t *Tracker) PageKeys(workflowID string, total int) ([]string, error) {
	out := make([]string, total)
	for p := 1; p <= total; p++ {
		v, err := t.db.Get(keyPage(workflowID, p))
		if err != nil {
			if errors.Is(err, pebblestore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[p-1] = string(v)
	}
	return out, nil
}

// Stages lists the tracked stage names in pipeline order.
func Stages() []string {
	return []string{"render", "extract", "synthesize", "transcode", "assemble"}
}

func (t *Tracker) loadMeta(workflowID string) (meta, error) {
	raw, err := t.db.Get(keyMeta(workflowID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return meta{}, ErrUnknownWorkflow
		}
		return meta{}, err
	}
	var m meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return meta{}, err
	}
	return m, nil
}

func countBits(bm []byte) int {
	n := 0
	for _, b := range bm {
		for b != 0 {
			n += int(b & 1)
			b >>= 1
		}
	}
	return n
}
