// Package config provides loading and environment overlay for audiopipe
// runtime configuration. It exposes a Default() baseline, JSON file loading,
// and AUDIOPIPE_* env overrides, plus helpers that map the declarative
// config onto bus and storage option types.
//
// Example:
//
//	cfg, err := config.Load("/etc/audiopipe.json")
//	if err != nil {
//	    cfg = config.Default()
//	}
//	config.FromEnv(&cfg)
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
package config
