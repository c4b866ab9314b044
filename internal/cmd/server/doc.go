// Package serverrun exposes a shared Run entrypoint used by the CLI to host
// the audiopipe runtime and its stage workers, handling lifecycle and
// shutdown.
//
// Example:
//
//	cfg := config.Default()
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
