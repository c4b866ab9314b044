package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nnikolov3/audiopipe/internal/event"
	logpkg "github.com/nnikolov3/audiopipe/pkg/log"
)

// Manifest is the assembled output of a workflow: the ordered page-to-audio
// listing written as the final blob.
type Manifest struct {
	WorkflowID  string         `json:"workflow_id"`
	TotalPages  int            `json:"total_pages"`
	Pages       []ManifestPage `json:"pages"`
	CreatedAtMs int64          `json:"created_at_ms"`
}

type ManifestPage struct {
	PageNumber int    `json:"page_number"`
	AudioKey   string `json:"audio_key"`
}

// Assemble is the fan-in stage: it collects transcoded pages per workflow and
// on completeness writes the manifest and announces WorkflowCompleted.
// Out-of-order and duplicate pages are tolerated; the page set completes at
// most once.
type Assemble struct {
	deps *Deps
}

func NewAssemble(deps *Deps) *Assemble {
	return &Assemble{deps: deps}
}

func (s *Assemble) Name() string    { return "assemble" }
func (s *Assemble) Subject() string { return event.SubjectAudioTranscoded }

func (s *Assemble) Process(ctx context.Context, h event.Header, ev event.Event) error {
	at, ok := ev.(*event.AudioTranscoded)
	if !ok {
		return wrongPayload(s.Name(), ev)
	}

	// map the page before recording it, so completion always sees every key
	if err := s.deps.Tracker.SetPageKey(ctx, h.WorkflowID, at.PageNumber, at.AudioKey); err != nil {
		return err
	}
	done, err := s.deps.Tracker.Record(ctx, h, s.Name(), at.PageNumber, at.TotalPages)
	if err != nil {
		return err
	}
	if !done {
		return nil
	}
	// Record stays complete on redelivery, so a crash between completion
	// and the announcement is retried here. MarkCompleted below is the
	// durable marker that keeps the announcement from repeating.
	announced, err := s.deps.Tracker.Announced(h.WorkflowID)
	if err != nil {
		return err
	}
	if announced {
		return nil
	}

	keys, err := s.deps.Tracker.PageKeys(h.WorkflowID, at.TotalPages)
	if err != nil {
		return err
	}
	m := Manifest{WorkflowID: h.WorkflowID, TotalPages: at.TotalPages, CreatedAtMs: time.Now().UnixMilli()}
	for i, key := range keys {
		if key == "" {
			return fmt.Errorf("assemble: workflow %s complete but page %d has no audio key", h.WorkflowID, i+1)
		}
		ok, err := s.deps.Store.Exists(BucketAudio, key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("assemble: workflow %s page %d audio blob %s missing", h.WorkflowID, i+1, key)
		}
		m.Pages = append(m.Pages, ManifestPage{PageNumber: i + 1, AudioKey: key})
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	manifestKey := s.deps.Keys.NextKey("manifest")
	if err := s.deps.Store.Put(ctx, BucketManifests, manifestKey, data); err != nil {
		return err
	}
	if err := s.deps.emit(ctx, event.SubjectWorkflowsCompleted, h, event.WorkflowCompleted{
		ManifestKey: manifestKey,
		TotalPages:  at.TotalPages,
	}); err != nil {
		return err
	}
	if err := s.deps.Tracker.MarkCompleted(ctx, h.WorkflowID, manifestKey); err != nil {
		return err
	}
	s.deps.Logger.With(
		logpkg.Str("workflow_id", h.WorkflowID),
		logpkg.Int("pages", at.TotalPages),
		logpkg.Str("manifest_key", manifestKey),
	).Info("assemble.completed")
	return nil
}
