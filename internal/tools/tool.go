package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Tool transforms one artifact into another. Implementations shell out to the
// external converter binaries; tests inject fakes.
type Tool interface {
	Name() string
	Transform(ctx context.Context, input []byte) ([]byte, error)
}

// fileTransform writes the input to a scratch file, invokes run with scratch
// paths, and reads back the produced output file. The scratch dir is removed
// when the transform returns.
func fileTransform(input []byte, inExt, outExt string, run func(inPath, outPath string) error) ([]byte, error) {
	dir, err := os.MkdirTemp("", "audiopipe-tool-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in"+inExt)
	outPath := filepath.Join(dir, "out"+outExt)
	if err := os.WriteFile(inPath, input, 0o644); err != nil {
		return nil, err
	}
	if err := run(inPath, outPath); err != nil {
		return nil, err
	}
	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("tool produced no output: %w", err)
	}
	return out, nil
}
