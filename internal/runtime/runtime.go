package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nnikolov3/audiopipe/internal/blobstore"
	"github.com/nnikolov3/audiopipe/internal/bus"
	cfgpkg "github.com/nnikolov3/audiopipe/internal/config"
	"github.com/nnikolov3/audiopipe/internal/correlate"
	"github.com/nnikolov3/audiopipe/internal/dedup"
	"github.com/nnikolov3/audiopipe/internal/event"
	"github.com/nnikolov3/audiopipe/internal/stages"
	pebblestore "github.com/nnikolov3/audiopipe/internal/storage/pebble"
	"github.com/nnikolov3/audiopipe/internal/tools"
	"github.com/nnikolov3/audiopipe/internal/worker"
	"github.com/nnikolov3/audiopipe/pkg/id"
	logpkg "github.com/nnikolov3/audiopipe/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
}

// Runtime wires storage, config, and the pipeline facades for a single-node
// instance.
type Runtime struct {
	db      *pebblestore.DB
	bus     *bus.Bus
	store   *blobstore.Store
	dedup   *dedup.Set
	tracker *correlate.Tracker
	keys    *id.Generator
	logger  logpkg.Logger
	config  cfgpkg.Config
}

// Open initializes the underlying storage, bus, and blob buckets.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	fsync, err := opts.Config.FsyncMode()
	if err != nil {
		return nil, err
	}
	pol, err := opts.Config.RetryPolicy()
	if err != nil {
		return nil, err
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.Config.DataDir, Fsync: fsync})
	if err != nil {
		return nil, err
	}
	b := bus.New(db, logger, bus.Options{
		MaxPayloadBytes: opts.Config.Bus.PayloadMaxBytes,
		Policy:          &pol,
	})
	store := blobstore.New(db)
	for _, bucket := range stages.Buckets() {
		if err := store.EnsureBucket(bucket); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &Runtime{
		db:      db,
		bus:     b,
		store:   store,
		dedup:   dedup.New(db),
		tracker: correlate.New(db),
		keys:    id.NewGenerator(),
		logger:  logger,
		config:  opts.Config,
	}, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage probe.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// Bus returns the event bus.
func (r *Runtime) Bus() *bus.Bus { return r.bus }

// Store returns the blob store.
func (r *Runtime) Store() *blobstore.Store { return r.store }

// Tracker returns the workflow fan-in tracker.
func (r *Runtime) Tracker() *correlate.Tracker { return r.tracker }

// Keys returns the blob key generator.
func (r *Runtime) Keys() *id.Generator { return r.keys }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// StalledAfter returns the configured stall threshold.
func (r *Runtime) StalledAfter() time.Duration {
	return time.Duration(r.config.Workflow.StalledAfterMs) * time.Millisecond
}

func (r *Runtime) stageDeps() *stages.Deps {
	return &stages.Deps{
		Bus:         r.bus,
		Store:       r.store,
		Keys:        r.keys,
		Tracker:     r.tracker,
		Logger:      r.logger,
		FetchProbes: r.config.Workflow.FetchProbes,
		FetchDelay:  time.Duration(r.config.Workflow.FetchDelayMs) * time.Millisecond,
	}
}

// PipelineStages builds the five document stages from the configured
// converter binaries.
func (r *Runtime) PipelineStages() []worker.Stage {
	tc := r.config.Tools
	runner := tools.NewRunner(time.Duration(tc.TimeoutMs)*time.Millisecond, r.logger)

	rasterize := tools.NewRasterizer(runner)
	rasterize.Binary, rasterize.DPI = tc.Rasterizer, tc.DPI
	ocr := tools.NewOCR(runner)
	ocr.Binary, ocr.Lang = tc.OCR, tc.OCRLang
	tts := tools.NewTTS(runner)
	tts.Binary, tts.Voice, tts.WPM = tc.TTS, tc.TTSVoice, tc.TTSWPM
	transcode := tools.NewTranscoder(runner)
	transcode.Binary, transcode.Bitrate = tc.Transcoder, tc.Bitrate

	deps := r.stageDeps()
	render := stages.NewRender(deps, rasterize)
	if r.config.Workflow.RenderParallelism > 0 {
		render.Parallelism = r.config.Workflow.RenderParallelism
	}
	return []worker.Stage{
		render,
		stages.NewExtract(deps, ocr),
		stages.NewSynthesize(deps, tts),
		stages.NewTranscode(deps, transcode),
		stages.NewAssemble(deps),
	}
}

// Run starts the pipeline workers, the status observers, and the retention
// sweeper, and blocks until ctx is canceled or a worker fails. With no
// arguments every stage runs; naming stages restricts the process to that
// subset so stages can be scaled as separate processes over shared groups.
func (r *Runtime) Run(ctx context.Context, only ...string) error {
	sts, err := r.selectStages(only)
	if err != nil {
		return err
	}
	subOpts := r.config.SubscribeOptions()
	w := worker.New(r.bus, r.dedup, r.logger)

	eg, gctx := errgroup.WithContext(ctx)
	for _, st := range sts {
		st := st
		eg.Go(func() error { return w.Run(gctx, st, subOpts) })
	}
	for _, obs := range correlate.ObserverStages(r.tracker) {
		obs := obs
		eg.Go(func() error { return w.Run(gctx, obs, subOpts) })
	}
	eg.Go(func() error { return r.retentionLoop(gctx) })

	if err := eg.Wait(); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Runtime) selectStages(only []string) ([]worker.Stage, error) {
	all := r.PipelineStages()
	if len(only) == 0 {
		return all, nil
	}
	byName := make(map[string]worker.Stage, len(all))
	for _, st := range all {
		byName[st.Name()] = st
	}
	out := make([]worker.Stage, 0, len(only))
	for _, name := range only {
		st, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown stage %q", name)
		}
		out = append(out, st)
	}
	return out, nil
}

// retentionLoop trims aged log records and dedup markers on a fixed cadence.
func (r *Runtime) retentionLoop(ctx context.Context) error {
	interval := time.Duration(r.config.Retention.SweepIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweepRetention(ctx)
		}
	}
}

func (r *Runtime) sweepRetention(ctx context.Context) {
	maxAge := time.Duration(r.config.Retention.MaxAgeHours) * time.Hour
	cutoffMs := time.Now().Add(-maxAge).UnixMilli()
	for _, subject := range event.Subjects() {
		if maxAge > 0 {
			if n, err := r.bus.TrimOlderThan(ctx, subject, maxAge); err != nil {
				r.logger.WithError(err).Warn("retention.trim_failed", logpkg.Str("subject", subject))
			} else if n > 0 {
				r.logger.Debug("retention.trimmed", logpkg.Str("subject", subject), logpkg.Int("records", n))
			}
		}
		if r.config.Retention.MaxLogBytes > 0 {
			if _, err := r.bus.TrimToMaxBytes(ctx, subject, int64(r.config.Retention.MaxLogBytes)); err != nil {
				r.logger.WithError(err).Warn("retention.size_trim_failed", logpkg.Str("subject", subject))
			}
		}
	}
	if maxAge > 0 {
		if _, err := r.dedup.TrimOlderThan(ctx, cutoffMs, 1024); err != nil {
			r.logger.WithError(err).Warn("retention.dedup_trim_failed")
		}
	}
}
