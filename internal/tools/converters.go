package tools

import (
	"context"
	"strconv"
)

// Rasterizer renders a single-page PDF into a PNG image via pdftoppm.
type Rasterizer struct {
	runner *Runner
	Binary string
	DPI    int
}

func NewRasterizer(r *Runner) *Rasterizer {
	return &Rasterizer{runner: r, Binary: "pdftoppm", DPI: 150}
}

func (t *Rasterizer) Name() string { return "rasterize" }

func (t *Rasterizer) Transform(ctx context.Context, input []byte) ([]byte, error) {
	return fileTransform(input, ".pdf", ".png", func(inPath, outPath string) error {
		// pdftoppm appends the extension itself; pass the prefix
		prefix := outPath[:len(outPath)-len(".png")]
		_, err := t.runner.Run(ctx, t.Binary, "-png", "-r", strconv.Itoa(t.DPI), "-singlefile", inPath, prefix)
		return err
	})
}

// OCR recognizes text in a page image via tesseract.
type OCR struct {
	runner *Runner
	Binary string
	Lang   string
}

func NewOCR(r *Runner) *OCR {
	return &OCR{runner: r, Binary: "tesseract", Lang: "eng"}
}

func (t *OCR) Name() string { return "ocr" }

func (t *OCR) Transform(ctx context.Context, input []byte) ([]byte, error) {
	return fileTransform(input, ".png", ".txt", func(inPath, outPath string) error {
		// tesseract appends .txt itself; pass the prefix
		prefix := outPath[:len(outPath)-len(".txt")]
		_, err := t.runner.Run(ctx, t.Binary, inPath, prefix, "-l", t.Lang)
		return err
	})
}

// TTS synthesizes page text into raw WAV audio via espeak-ng.
type TTS struct {
	runner *Runner
	Binary string
	Voice  string
	WPM    int
}

func NewTTS(r *Runner) *TTS {
	return &TTS{runner: r, Binary: "espeak-ng", Voice: "en-us", WPM: 160}
}

func (t *TTS) Name() string { return "tts" }

func (t *TTS) Transform(ctx context.Context, input []byte) ([]byte, error) {
	return fileTransform(input, ".txt", ".wav", func(inPath, outPath string) error {
		_, err := t.runner.Run(ctx, t.Binary, "-v", t.Voice, "-s", strconv.Itoa(t.WPM), "-w", outPath, "-f", inPath)
		return err
	})
}

// Transcoder compresses raw WAV audio into Opus via ffmpeg.
type Transcoder struct {
	runner  *Runner
	Binary  string
	Bitrate string
}

func NewTranscoder(r *Runner) *Transcoder {
	return &Transcoder{runner: r, Binary: "ffmpeg", Bitrate: "32k"}
}

func (t *Transcoder) Name() string { return "transcode" }

func (t *Transcoder) Transform(ctx context.Context, input []byte) ([]byte, error) {
	return fileTransform(input, ".wav", ".ogg", func(inPath, outPath string) error {
		_, err := t.runner.Run(ctx, t.Binary, "-y", "-i", inPath, "-c:a", "libopus", "-b:a", t.Bitrate, outPath)
		return err
	})
}
