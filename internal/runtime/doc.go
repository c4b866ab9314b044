// Package runtime wires storage, config, and the pipeline facades into a
// single-node audiopipe instance. It exposes Open/Close, a basic health
// check, and Run, which hosts every stage worker, the workflow status
// observers, and the retention sweeper until the context is canceled.
//
// Example:
//
//	cfg := config.Default()
//	cfg.DataDir = "./data"
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	_ = rt.Run(ctx)
package runtime
