package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/nnikolov3/audiopipe/internal/event"
	"github.com/nnikolov3/audiopipe/internal/tools"
	logpkg "github.com/nnikolov3/audiopipe/pkg/log"
)

// Render fans a source document out into one PageRendered per page: it counts
// pages with pdfcpu, splits the PDF, rasterizes each page, and performs
// write-then-announce per page. Re-running after a partial fan-out re-emits
// all pages; dedup and the fan-in tracker absorb the duplicates.
type Render struct {
	deps      *Deps
	rasterize tools.Tool

	// Parallelism bounds concurrent page rendering. Defaults to 4.
	Parallelism int
}

func NewRender(deps *Deps, rasterize tools.Tool) *Render {
	return &Render{deps: deps, rasterize: rasterize, Parallelism: 4}
}

func (s *Render) Name() string    { return "render" }
func (s *Render) Subject() string { return event.SubjectDocumentsCreated }

func (s *Render) Process(ctx context.Context, h event.Header, ev event.Event) error {
	sc, ok := ev.(*event.SourceCreated)
	if !ok {
		return wrongPayload(s.Name(), ev)
	}

	source, err := s.deps.fetch(ctx, sc.SourceBucket, sc.SourceKey)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "audiopipe-render-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	srcPath := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(srcPath, source, 0o644); err != nil {
		return err
	}

	pageCount, err := api.PageCountFile(srcPath)
	if err != nil {
		return &event.ValidationError{Field: "source_key", Reason: fmt.Sprintf("unreadable pdf: %v", err)}
	}
	if pageCount < 1 {
		return &event.ValidationError{Field: "source_key", Reason: "pdf has no pages"}
	}
	if err := api.SplitFile(srcPath, dir, 1, nil); err != nil {
		return fmt.Errorf("split pdf: %w", err)
	}

	limit := s.Parallelism
	if limit <= 0 {
		limit = 4
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i := 1; i <= pageCount; i++ {
		page := i
		eg.Go(func() error {
			pagePath := filepath.Join(dir, fmt.Sprintf("source_%d.pdf", page))
			pagePDF, err := os.ReadFile(pagePath)
			if err != nil {
				return fmt.Errorf("page %d: %w", page, err)
			}
			img, err := s.rasterize.Transform(gctx, pagePDF)
			if err != nil {
				return fmt.Errorf("page %d: %w", page, err)
			}
			// fresh result key per attempt keeps write-once intact on retries
			key := s.deps.Keys.NextKey("page")
			if err := s.deps.Store.Put(gctx, BucketPages, key, img); err != nil {
				return fmt.Errorf("page %d: %w", page, err)
			}
			return s.deps.emit(gctx, event.SubjectPagesRendered, h, event.PageRendered{
				ImageKey:   key,
				PageNumber: page,
				TotalPages: pageCount,
			})
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	s.deps.Logger.With(
		logpkg.Str("workflow_id", h.WorkflowID),
		logpkg.Int("pages", pageCount),
	).Info("render.fanout")
	return nil
}
