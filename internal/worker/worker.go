package worker

import (
	"context"
	"errors"
	"time"

	"github.com/nnikolov3/audiopipe/internal/bus"
	"github.com/nnikolov3/audiopipe/internal/dedup"
	"github.com/nnikolov3/audiopipe/internal/event"
	logpkg "github.com/nnikolov3/audiopipe/pkg/log"
)

// Stage consumes one subject as a named group and performs one pipeline
// transformation per delivery. Process must be all-or-nothing up to its
// successor publish: the worker acks only after it returns nil.
type Stage interface {
	// Name is the consumer group the stage claims deliveries under.
	Name() string
	// Subject is the subject the stage consumes.
	Subject() string
	// Process handles one decoded event.
	Process(ctx context.Context, h event.Header, ev event.Event) error
}

// Worker runs stages against the bus with idempotency on top of at-least-once
// delivery.
type Worker struct {
	bus    *bus.Bus
	dedup  *dedup.Set
	logger logpkg.Logger
}

// New constructs a Worker.
func New(b *bus.Bus, d *dedup.Set, logger logpkg.Logger) *Worker {
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("worker"))
	}
	return &Worker{bus: b, dedup: d, logger: logger}
}

// Run subscribes the stage and blocks until ctx is canceled.
func (w *Worker) Run(ctx context.Context, st Stage, opts bus.SubscribeOptions) error {
	logger := w.logger.With(logpkg.Str("stage", st.Name()), logpkg.Str("subject", st.Subject()))
	logger.Info("worker.start")
	defer logger.Info("worker.stop")
	return w.bus.Subscribe(ctx, st.Subject(), st.Name(), w.handler(st, logger), opts)
}

func (w *Worker) handler(st Stage, logger logpkg.Logger) bus.Handler {
	return func(ctx context.Context, d bus.Delivery) error {
		h, ev, err := event.Decode(d.Payload)
		if err != nil {
			// schema violations never become valid on retry
			logger.WithError(err).Warn("worker.bad_event", logpkg.Uint64("seq", d.Seq))
			return bus.Permanent(err)
		}
		elog := logger.With(
			logpkg.Str("event_id", h.EventID),
			logpkg.Str("workflow_id", h.WorkflowID),
			logpkg.Uint64("seq", d.Seq),
			logpkg.Uint64("attempt", uint64(d.Attempts)),
		)

		seen, err := w.dedup.Seen(st.Name(), h.EventID)
		if err != nil {
			return err
		}
		if seen {
			// redelivered after a completed run: ack without side effects
			elog.Debug("worker.duplicate")
			return nil
		}

		t0 := time.Now()
		if err := st.Process(ctx, h, ev); err != nil {
			var verr *event.ValidationError
			if errors.As(err, &verr) {
				elog.WithError(err).Warn("worker.terminal")
				return bus.Permanent(err)
			}
			elog.WithError(err).Warn("worker.retryable")
			return err
		}

		if err := w.dedup.MarkProcessed(ctx, st.Name(), h.EventID); err != nil {
			return err
		}
		elog.With(logpkg.Int64("dur_ms", time.Since(t0).Milliseconds())).Info("worker.processed")
		return nil
	}
}
