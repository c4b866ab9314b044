package serverrun

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cfgpkg "github.com/nnikolov3/audiopipe/internal/config"
	"github.com/nnikolov3/audiopipe/internal/runtime"
	logpkg "github.com/nnikolov3/audiopipe/pkg/log"
)

// Options for starting the pipeline server.
type Options struct {
	Config cfgpkg.Config
	// Stages restricts this process to the named stages; empty runs all.
	Stages []string
}

// Run opens the runtime and hosts the pipeline workers until ctx is
// cancelled or a termination signal arrives.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logpkg.ApplyConfig(&logpkg.Config{
		Level:  opts.Config.Log.Level,
		Format: opts.Config.Log.Format,
	})
	if err != nil {
		return err
	}
	// Route stdlib logs (e.g. Pebble) through our logger.
	logpkg.RedirectStdLog(logger)

	rt, err := runtime.Open(runtime.Options{Config: opts.Config, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("starting audiopipe server",
		logpkg.Str("data_dir", opts.Config.DataDir),
		logpkg.Str("fsync", opts.Config.Fsync),
		logpkg.Str("level", opts.Config.Log.Level),
		logpkg.Str("format", opts.Config.Log.Format),
		logpkg.Int("max_in_flight", opts.Config.Bus.MaxInFlight),
	)
	return rt.Run(sctx, opts.Stages...)
}
