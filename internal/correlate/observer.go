package correlate

import (
	"context"

	"github.com/nnikolov3/audiopipe/internal/event"
)

// ObserverGroup is the consumer group the status observers claim under.
const ObserverGroup = "correlate"

// ObserverStage feeds one subject's events into the Tracker so workflow state
// is reconstructed from the log alone.
type ObserverStage struct {
	tracker *Tracker
	subject string
}

// ObserverStages returns one observer per pipeline subject.
func ObserverStages(tr *Tracker) []*ObserverStage {
	subjects := event.Subjects()
	out := make([]*ObserverStage, 0, len(subjects))
	for _, s := range subjects {
		out = append(out, &ObserverStage{tracker: tr, subject: s})
	}
	return out
}

func (o *ObserverStage) Name() string    { return ObserverGroup }
func (o *ObserverStage) Subject() string { return o.subject }

func (o *ObserverStage) Process(ctx context.Context, h event.Header, ev event.Event) error {
	switch e := ev.(type) {
	case *event.SourceCreated:
		return o.tracker.Touch(ctx, h)
	case *event.PageRendered:
		_, err := o.tracker.Record(ctx, h, "render", e.PageNumber, e.TotalPages)
		return err
	case *event.PageExtracted:
		_, err := o.tracker.Record(ctx, h, "extract", e.PageNumber, e.TotalPages)
		return err
	case *event.AudioSynthesized:
		_, err := o.tracker.Record(ctx, h, "synthesize", e.PageNumber, e.TotalPages)
		return err
	case *event.AudioTranscoded:
		_, err := o.tracker.Record(ctx, h, "transcode", e.PageNumber, e.TotalPages)
		return err
	case *event.WorkflowCompleted:
		return o.tracker.MarkCompleted(ctx, h.WorkflowID, e.ManifestKey)
	default:
		return nil
	}
}
