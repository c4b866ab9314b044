package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/nnikolov3/audiopipe/internal/cmd/client"
	serverrun "github.com/nnikolov3/audiopipe/internal/cmd/server"
	cfgpkg "github.com/nnikolov3/audiopipe/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "audiopipe",
		Short: "Audiopipe document-to-audio pipeline",
		Long:  "Audiopipe converts documents into narrated audio through a durable staged pipeline. This CLI hosts the server and basic operations.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the pipeline workers",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			fsync, _ := cmd.Flags().GetString("fsync")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")
			stageNames, _ := cmd.Flags().GetStringSlice("stages")

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if fsync != "" {
				cfg.Fsync = fsync
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serverrun.Run(ctx, serverrun.Options{Config: cfg, Stages: stageNames})
		},
	}
	serverStartCmd.Flags().String("config", "", "Config file (JSON)")
	serverStartCmd.Flags().StringSlice("stages", nil, "Run only the named stages (render,extract,synthesize,transcode,assemble)")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().String("log-level", os.Getenv("AUDIOPIPE_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("AUDIOPIPE_LOG_FORMAT"), "Log format: text|json (default json)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	rootCmd.AddCommand(clientcmd.NewSubmitCommand())
	rootCmd.AddCommand(clientcmd.NewStatusCommand())
	rootCmd.AddCommand(clientcmd.NewWatchCommand())
	rootCmd.AddCommand(clientcmd.NewDLQCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
