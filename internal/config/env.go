package config

import (
	"os"
	"strconv"
)

// FromEnv overlays AUDIOPIPE_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("AUDIOPIPE_DATA_DIR", &cfg.DataDir)
	setString("AUDIOPIPE_FSYNC", &cfg.Fsync)
	setString("AUDIOPIPE_LOG_LEVEL", &cfg.Log.Level)
	setString("AUDIOPIPE_LOG_FORMAT", &cfg.Log.Format)

	setInt("AUDIOPIPE_BUS_PAYLOAD_MAX_BYTES", &cfg.Bus.PayloadMaxBytes)
	setInt("AUDIOPIPE_BUS_LEASE_MS", &cfg.Bus.LeaseMs)
	setInt("AUDIOPIPE_BUS_MAX_IN_FLIGHT", &cfg.Bus.MaxInFlight)
	setInt("AUDIOPIPE_BUS_SWEEP_INTERVAL_MS", &cfg.Bus.SweepIntervalMs)
	setInt("AUDIOPIPE_BUS_POLL_INTERVAL_MS", &cfg.Bus.PollIntervalMs)

	setString("AUDIOPIPE_RETRY_BACKOFF", &cfg.Retry.Backoff)
	setInt("AUDIOPIPE_RETRY_BASE_MS", &cfg.Retry.BaseMs)
	setInt("AUDIOPIPE_RETRY_CAP_MS", &cfg.Retry.CapMs)
	setInt("AUDIOPIPE_RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	if v := os.Getenv("AUDIOPIPE_RETRY_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retry.Factor = f
		}
	}

	setInt("AUDIOPIPE_RETENTION_MAX_AGE_HOURS", &cfg.Retention.MaxAgeHours)
	setInt("AUDIOPIPE_RETENTION_MAX_LOG_BYTES", &cfg.Retention.MaxLogBytes)
	setInt("AUDIOPIPE_RETENTION_SWEEP_INTERVAL_MS", &cfg.Retention.SweepIntervalMs)

	setInt("AUDIOPIPE_WORKFLOW_STALLED_AFTER_MS", &cfg.Workflow.StalledAfterMs)
	setInt("AUDIOPIPE_RENDER_PARALLELISM", &cfg.Workflow.RenderParallelism)
	setInt("AUDIOPIPE_FETCH_PROBES", &cfg.Workflow.FetchProbes)
	setInt("AUDIOPIPE_FETCH_DELAY_MS", &cfg.Workflow.FetchDelayMs)

	setInt("AUDIOPIPE_TOOLS_TIMEOUT_MS", &cfg.Tools.TimeoutMs)
	setString("AUDIOPIPE_TOOLS_RASTERIZER", &cfg.Tools.Rasterizer)
	setInt("AUDIOPIPE_TOOLS_DPI", &cfg.Tools.DPI)
	setString("AUDIOPIPE_TOOLS_OCR", &cfg.Tools.OCR)
	setString("AUDIOPIPE_TOOLS_OCR_LANG", &cfg.Tools.OCRLang)
	setString("AUDIOPIPE_TOOLS_TTS", &cfg.Tools.TTS)
	setString("AUDIOPIPE_TOOLS_TTS_VOICE", &cfg.Tools.TTSVoice)
	setInt("AUDIOPIPE_TOOLS_TTS_WPM", &cfg.Tools.TTSWPM)
	setString("AUDIOPIPE_TOOLS_TRANSCODER", &cfg.Tools.Transcoder)
	setString("AUDIOPIPE_TOOLS_BITRATE", &cfg.Tools.Bitrate)
}
