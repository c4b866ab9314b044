package client

import (
	"github.com/spf13/cobra"

	cfgpkg "github.com/nnikolov3/audiopipe/internal/config"
	"github.com/nnikolov3/audiopipe/internal/runtime"
	logpkg "github.com/nnikolov3/audiopipe/pkg/log"
)

// addStoreFlags registers the flags every command that opens the local store
// shares.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Config file (JSON)")
	cmd.Flags().String("data-dir", "", "Data directory (defaults to the OS-specific application data directory)")
}

// loadConfig builds the effective configuration from file, env, and flags.
func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, err
	}
	cfgpkg.FromEnv(&cfg)
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	return cfg, nil
}

// openRuntime opens the local engine for a one-shot client command. Pebble
// is single-writer, so these commands expect the server to be stopped or to
// run embedded via `submit --wait`.
func openRuntime(cmd *cobra.Command) (*runtime.Runtime, cfgpkg.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, cfgpkg.Config{}, err
	}
	logger, err := logpkg.ApplyConfig(&logpkg.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, cfgpkg.Config{}, err
	}
	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return nil, cfgpkg.Config{}, err
	}
	return rt, cfg, nil
}
