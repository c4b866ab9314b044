package stages

import (
	"context"

	"github.com/nnikolov3/audiopipe/internal/event"
	"github.com/nnikolov3/audiopipe/internal/tools"
)

// Extract recognizes text in a rendered page image.
type Extract struct {
	deps *Deps
	ocr  tools.Tool
}

func NewExtract(deps *Deps, ocr tools.Tool) *Extract {
	return &Extract{deps: deps, ocr: ocr}
}

func (s *Extract) Name() string    { return "extract" }
func (s *Extract) Subject() string { return event.SubjectPagesRendered }

func (s *Extract) Process(ctx context.Context, h event.Header, ev event.Event) error {
	pr, ok := ev.(*event.PageRendered)
	if !ok {
		return wrongPayload(s.Name(), ev)
	}
	img, err := s.deps.fetch(ctx, BucketPages, pr.ImageKey)
	if err != nil {
		return err
	}
	text, err := s.ocr.Transform(ctx, img)
	if err != nil {
		return err
	}
	key := s.deps.Keys.NextKey("text")
	if err := s.deps.Store.Put(ctx, BucketText, key, text); err != nil {
		return err
	}
	return s.deps.emit(ctx, event.SubjectPagesExtracted, h, event.PageExtracted{
		TextKey:    key,
		PageNumber: pr.PageNumber,
		TotalPages: pr.TotalPages,
	})
}

// Synthesize turns page text into raw audio.
type Synthesize struct {
	deps *Deps
	tts  tools.Tool
}

func NewSynthesize(deps *Deps, tts tools.Tool) *Synthesize {
	return &Synthesize{deps: deps, tts: tts}
}

func (s *Synthesize) Name() string    { return "synthesize" }
func (s *Synthesize) Subject() string { return event.SubjectPagesExtracted }

func (s *Synthesize) Process(ctx context.Context, h event.Header, ev event.Event) error {
	pe, ok := ev.(*event.PageExtracted)
	if !ok {
		return wrongPayload(s.Name(), ev)
	}
	text, err := s.deps.fetch(ctx, BucketText, pe.TextKey)
	if err != nil {
		return err
	}
	audio, err := s.tts.Transform(ctx, text)
	if err != nil {
		return err
	}
	key := s.deps.Keys.NextKey("rawaudio")
	if err := s.deps.Store.Put(ctx, BucketRawAudio, key, audio); err != nil {
		return err
	}
	return s.deps.emit(ctx, event.SubjectAudioSynthesized, h, event.AudioSynthesized{
		RawAudioKey: key,
		PageNumber:  pe.PageNumber,
		TotalPages:  pe.TotalPages,
	})
}

// Transcode compresses raw page audio.
type Transcode struct {
	deps      *Deps
	transcode tools.Tool
}

func NewTranscode(deps *Deps, transcode tools.Tool) *Transcode {
	return &Transcode{deps: deps, transcode: transcode}
}

func (s *Transcode) Name() string    { return "transcode" }
func (s *Transcode) Subject() string { return event.SubjectAudioSynthesized }

func (s *Transcode) Process(ctx context.Context, h event.Header, ev event.Event) error {
	as, ok := ev.(*event.AudioSynthesized)
	if !ok {
		return wrongPayload(s.Name(), ev)
	}
	raw, err := s.deps.fetch(ctx, BucketRawAudio, as.RawAudioKey)
	if err != nil {
		return err
	}
	audio, err := s.transcode.Transform(ctx, raw)
	if err != nil {
		return err
	}
	key := s.deps.Keys.NextKey("audio")
	if err := s.deps.Store.Put(ctx, BucketAudio, key, audio); err != nil {
		return err
	}
	return s.deps.emit(ctx, event.SubjectAudioTranscoded, h, event.AudioTranscoded{
		AudioKey:   key,
		PageNumber: as.PageNumber,
		TotalPages: as.TotalPages,
	})
}
