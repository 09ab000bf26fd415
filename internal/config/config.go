package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"parley/internal/domain"
)

// Config stores runtime configuration for the engine.
type Config struct {
	Realtime RealtimeConfig
	Audio    AudioConfig
	VAD      VADConfig
	Backend  BackendConfig
	Scenario domain.Scenario
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

type RealtimeConfig struct {
	APIKey             string
	URL                string
	Model              string
	Voice              string
	TranscriptionModel string
	ServerVAD          bool
}

type AudioConfig struct {
	SampleRate    int
	Channels      int
	FrameSize     int
	Video         bool
	VideoDevice   string
	FFmpegCommand string
}

type VADConfig struct {
	Threshold float64
	Hold      time.Duration
	Tick      time.Duration
}

type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Addr string
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Realtime: RealtimeConfig{
			APIKey:             strings.TrimSpace(os.Getenv("PARLEY_REALTIME_API_KEY")),
			URL:                envOrDefault("PARLEY_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
			Model:              envOrDefault("PARLEY_REALTIME_MODEL", "gpt-4o-realtime-preview"),
			Voice:              envOrDefault("PARLEY_REALTIME_VOICE", "alloy"),
			TranscriptionModel: envOrDefault("PARLEY_TRANSCRIPTION_MODEL", "whisper-1"),
			ServerVAD:          envOrDefaultBool("PARLEY_SERVER_VAD", false),
		},
		Audio: AudioConfig{
			SampleRate:    envOrDefaultInt("PARLEY_SAMPLE_RATE", 24000),
			Channels:      envOrDefaultInt("PARLEY_CHANNELS", 1),
			FrameSize:     envOrDefaultInt("PARLEY_FRAME_SIZE", 2048),
			Video:         envOrDefaultBool("PARLEY_VIDEO", false),
			VideoDevice:   envOrDefault("PARLEY_VIDEO_DEVICE", "/dev/video0"),
			FFmpegCommand: envOrDefault("PARLEY_FFMPEG_COMMAND", "ffmpeg"),
		},
		VAD: VADConfig{
			Threshold: envOrDefaultFloat("PARLEY_VAD_THRESHOLD", 20),
			Hold:      time.Duration(envOrDefaultInt("PARLEY_VAD_HOLD_MS", 2000)) * time.Millisecond,
			Tick:      time.Duration(envOrDefaultInt("PARLEY_VAD_TICK_MS", 16)) * time.Millisecond,
		},
		Backend: BackendConfig{
			BaseURL: envOrDefault("PARLEY_BACKEND_URL", "https://socialiq.zapto.org"),
			Timeout: time.Duration(envOrDefaultInt("PARLEY_BACKEND_TIMEOUT_MS", 15000)) * time.Millisecond,
		},
		Scenario: domain.Scenario{
			ID:          envOrDefault("PARLEY_SCENARIO_ID", ""),
			Title:       envOrDefault("PARLEY_SCENARIO_TITLE", ""),
			Category:    envOrDefault("PARLEY_SCENARIO_CATEGORY", ""),
			Difficulty:  envOrDefault("PARLEY_SCENARIO_DIFFICULTY", ""),
			Description: envOrDefault("PARLEY_SCENARIO_DESCRIPTION", ""),
			Mood:        envOrDefault("PARLEY_SCENARIO_MOOD", ""),
			UserName:    envOrDefault("PARLEY_USER_NAME", "User"),
			BotName:     envOrDefault("PARLEY_BOT_NAME", "Coach"),
			Email:       envOrDefault("PARLEY_USER_EMAIL", ""),
		},
		Logging: LoggingConfig{
			Level:  envOrDefault("PARLEY_LOG_LEVEL", "info"),
			Format: envOrDefault("PARLEY_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Addr: envOrDefault("PARLEY_METRICS_ADDR", ""),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 24000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.FrameSize < 256 {
		cfg.Audio.FrameSize = 2048
	}
	if cfg.VAD.Threshold <= 0 {
		cfg.VAD.Threshold = 20
	}
	if cfg.VAD.Hold <= 0 {
		cfg.VAD.Hold = 2 * time.Second
	}
	if cfg.VAD.Tick <= 0 {
		cfg.VAD.Tick = 16 * time.Millisecond
	}

	return cfg, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
