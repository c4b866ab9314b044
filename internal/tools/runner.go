package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	logpkg "github.com/nnikolov3/audiopipe/pkg/log"
)

// Runner executes external converter binaries with a timeout.
type Runner struct {
	Timeout time.Duration
	Logger  logpkg.Logger
}

// NewRunner returns a Runner with the provided timeout (default 2m).
func NewRunner(timeout time.Duration, logger logpkg.Logger) *Runner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("tools"))
	}
	return &Runner{Timeout: timeout, Logger: logger}
}

// Run executes the command and returns combined output. A timeout surfaces as
// an explicit error rather than the raw context error.
func (r *Runner) Run(ctx context.Context, command string, args ...string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	t0 := time.Now()
	cmd := exec.CommandContext(cctx, command, args...)
	output, err := cmd.CombinedOutput()
	out := strings.TrimSpace(string(output))
	if cctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("%s: timeout after %s", command, r.Timeout)
	} else if err != nil {
		err = fmt.Errorf("%s: %w: %s", command, err, truncate(out, 256))
	}

	r.Logger.With(
		logpkg.Str("cmd", command),
		logpkg.Int("args", len(args)),
		logpkg.Int64("dur_ms", time.Since(t0).Milliseconds()),
		logpkg.Bool("ok", err == nil),
	).Debug("tools.run")
	return out, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
