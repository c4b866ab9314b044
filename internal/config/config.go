package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nnikolov3/audiopipe/internal/bus"
	pebblestore "github.com/nnikolov3/audiopipe/internal/storage/pebble"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir string `json:"dataDir"`
	Fsync   string `json:"fsync"`

	Log       Log       `json:"log"`
	Bus       Bus       `json:"bus"`
	Retry     Retry     `json:"retry"`
	Retention Retention `json:"retention"`
	Workflow  Workflow  `json:"workflow"`
	Tools     Tools     `json:"tools"`
}

type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Bus captures delivery and publish limits.
type Bus struct {
	PayloadMaxBytes int `json:"payloadMaxBytes"`
	LeaseMs         int `json:"leaseMs"`
	MaxInFlight     int `json:"maxInFlight"`
	SweepIntervalMs int `json:"sweepIntervalMs"`
	PollIntervalMs  int `json:"pollIntervalMs"`
}

// Retry captures the redelivery backoff curve.
type Retry struct {
	Backoff     string  `json:"backoff"`
	BaseMs      int     `json:"baseMs"`
	CapMs       int     `json:"capMs"`
	Factor      float64 `json:"factor"`
	MaxAttempts int     `json:"maxAttempts"`
}

// Retention bounds how long processed history is kept.
type Retention struct {
	MaxAgeHours     int `json:"maxAgeHours"`
	MaxLogBytes     int `json:"maxLogBytes"`
	SweepIntervalMs int `json:"sweepIntervalMs"`
}

type Workflow struct {
	StalledAfterMs    int `json:"stalledAfterMs"`
	RenderParallelism int `json:"renderParallelism"`
	FetchProbes       int `json:"fetchProbes"`
	FetchDelayMs      int `json:"fetchDelayMs"`
}

// Tools names the external converter binaries and their knobs.
type Tools struct {
	TimeoutMs  int    `json:"timeoutMs"`
	Rasterizer string `json:"rasterizer"`
	DPI        int    `json:"dpi"`
	OCR        string `json:"ocr"`
	OCRLang    string `json:"ocrLang"`
	TTS        string `json:"tts"`
	TTSVoice   string `json:"ttsVoice"`
	TTSWPM     int    `json:"ttsWpm"`
	Transcoder string `json:"transcoder"`
	Bitrate    string `json:"bitrate"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir: DefaultDataDir(),
		Fsync:   "always",
		Log:     Log{Level: "info", Format: "json"},
		Bus: Bus{
			PayloadMaxBytes: 64 << 10,
			LeaseMs:         30_000,
			MaxInFlight:     4,
			SweepIntervalMs: 1_000,
			PollIntervalMs:  50,
		},
		Retry: Retry{
			Backoff:     "exp-jitter",
			BaseMs:      200,
			CapMs:       30_000,
			Factor:      2.0,
			MaxAttempts: 5,
		},
		Retention: Retention{
			MaxAgeHours:     7 * 24,
			SweepIntervalMs: 60_000,
		},
		Workflow: Workflow{
			StalledAfterMs:    10 * 60_000,
			RenderParallelism: 4,
			FetchProbes:       3,
			FetchDelayMs:      100,
		},
		Tools: Tools{
			TimeoutMs:  120_000,
			Rasterizer: "pdftoppm",
			DPI:        150,
			OCR:        "tesseract",
			OCRLang:    "eng",
			TTS:        "espeak-ng",
			TTSVoice:   "en-us",
			TTSWPM:     160,
			Transcoder: "ffmpeg",
			Bitrate:    "32k",
		},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FsyncMode maps the configured fsync string onto the store mode.
func (c Config) FsyncMode() (pebblestore.FsyncMode, error) {
	switch c.Fsync {
	case "", "always":
		return pebblestore.FsyncModeAlways, nil
	case "interval":
		return pebblestore.FsyncModeInterval, nil
	case "never":
		return pebblestore.FsyncModeNever, nil
	}
	return pebblestore.FsyncModeUnspecified, fmt.Errorf("unknown fsync mode %q", c.Fsync)
}

// RetryPolicy maps the configured retry block onto a bus policy.
func (c Config) RetryPolicy() (bus.RetryPolicy, error) {
	pol := bus.RetryPolicy{
		Base:        time.Duration(c.Retry.BaseMs) * time.Millisecond,
		Cap:         time.Duration(c.Retry.CapMs) * time.Millisecond,
		Factor:      c.Retry.Factor,
		MaxAttempts: uint32(c.Retry.MaxAttempts),
	}
	switch c.Retry.Backoff {
	case "none":
		pol.Type = bus.BackoffNone
	case "fixed":
		pol.Type = bus.BackoffFixed
	case "exp":
		pol.Type = bus.BackoffExp
	case "", "exp-jitter":
		pol.Type = bus.BackoffExpJitter
	default:
		return bus.RetryPolicy{}, fmt.Errorf("unknown backoff %q", c.Retry.Backoff)
	}
	return pol, nil
}

// SubscribeOptions maps the bus block onto per-subscription options.
func (c Config) SubscribeOptions() bus.SubscribeOptions {
	return bus.SubscribeOptions{
		Lease:         time.Duration(c.Bus.LeaseMs) * time.Millisecond,
		MaxInFlight:   c.Bus.MaxInFlight,
		SweepInterval: time.Duration(c.Bus.SweepIntervalMs) * time.Millisecond,
		PollInterval:  time.Duration(c.Bus.PollIntervalMs) * time.Millisecond,
	}
}
