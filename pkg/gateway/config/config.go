package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Database. DevMemory swaps in the in-process store, for local
	// development without Postgres.
	DatabaseURL string
	DevMemory   bool

	// Audio object storage. When Bucket is empty, audio is written under
	// AudioDir on local disk.
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PublicBaseURL   string
	S3UsePathStyle    bool
	AudioDir          string

	// Cartesia speech vendor.
	CartesiaAPIKey  string
	CartesiaBaseURL string
	CartesiaWSURL   string
	CartesiaVoiceID string
	TTSModel        string
	STTModel        string

	// Gemini reply generation.
	GeminiAPIKey string
	ChatModel    string
	MaxTokens    int
	Temperature  float64

	// Persona and safety.
	DefaultToyName   string
	RedirectPhrase   string
	PolicyVersion    string
	BaselineTopics   []string
	SanitizeFallback string
	MaxHistoryTurns  int

	// Endpoint detector tuning.
	FrameMs                int
	SpeechStartFrames      int
	SpeechEndSilenceFrames int
	MaxUtteranceMs         int
	EnergyThreshold        float64

	// Reply segmentation.
	SegmentMaxChars int
	SegmentMinChars int

	// Connection limits.
	WSPingInterval      time.Duration
	WSWriteTimeout      time.Duration
	MaxSessionDuration  time.Duration
	PlaybackGrace       time.Duration
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:        envOr("LUMIVOICE_ADDR", ":8080"),
		DatabaseURL: envOr("LUMIVOICE_DATABASE_URL", ""),
		DevMemory:   envBoolOr("LUMIVOICE_DEV_MEMORY", false),

		S3Bucket:          envOr("LUMIVOICE_S3_BUCKET", ""),
		S3Region:          envOr("LUMIVOICE_S3_REGION", "us-east-1"),
		S3Endpoint:        envOr("LUMIVOICE_S3_ENDPOINT", ""),
		S3AccessKeyID:     envOr("LUMIVOICE_S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: envOr("LUMIVOICE_S3_SECRET_ACCESS_KEY", ""),
		S3PublicBaseURL:   envOr("LUMIVOICE_S3_PUBLIC_BASE_URL", ""),
		S3UsePathStyle:    envBoolOr("LUMIVOICE_S3_USE_PATH_STYLE", false),
		AudioDir:          envOr("LUMIVOICE_AUDIO_DIR", "./audio"),

		CartesiaAPIKey:  envOr("LUMIVOICE_CARTESIA_API_KEY", ""),
		CartesiaBaseURL: envOr("LUMIVOICE_CARTESIA_BASE_URL", "https://api.cartesia.ai"),
		CartesiaWSURL:   envOr("LUMIVOICE_CARTESIA_WS_URL", "wss://api.cartesia.ai/tts/websocket"),
		CartesiaVoiceID: envOr("LUMIVOICE_CARTESIA_VOICE_ID", ""),
		TTSModel:        envOr("LUMIVOICE_TTS_MODEL", "sonic-3"),
		STTModel:        envOr("LUMIVOICE_STT_MODEL", "ink-whisper"),

		GeminiAPIKey: envOr("LUMIVOICE_GEMINI_API_KEY", ""),
		ChatModel:    envOr("LUMIVOICE_CHAT_MODEL", "gemini-2.0-flash"),
		MaxTokens:    envIntOr("LUMIVOICE_MAX_TOKENS", 256),
		Temperature:  envFloat64Or("LUMIVOICE_TEMPERATURE", 0.8),

		DefaultToyName:   envOr("LUMIVOICE_DEFAULT_TOY_NAME", "小悠"),
		RedirectPhrase:   envOr("LUMIVOICE_REDIRECT_PHRASE", ""),
		PolicyVersion:    envOr("LUMIVOICE_POLICY_VERSION", "safety_v1"),
		BaselineTopics:   splitCSV(os.Getenv("LUMIVOICE_BASELINE_TOPICS")),
		SanitizeFallback: envOr("LUMIVOICE_SANITIZE_FALLBACK", ""),
		MaxHistoryTurns:  envIntOr("LUMIVOICE_MAX_HISTORY_TURNS", 6),

		FrameMs:                envIntOr("LUMIVOICE_FRAME_MS", 20),
		SpeechStartFrames:      envIntOr("LUMIVOICE_SPEECH_START_FRAMES", 3),
		SpeechEndSilenceFrames: envIntOr("LUMIVOICE_SPEECH_END_SILENCE_FRAMES", 12),
		MaxUtteranceMs:         envIntOr("LUMIVOICE_MAX_UTTERANCE_MS", 15000),
		EnergyThreshold:        envFloat64Or("LUMIVOICE_ENERGY_THRESHOLD", 0.015),

		SegmentMaxChars: envIntOr("LUMIVOICE_SEGMENT_MAX_CHARS", 80),
		SegmentMinChars: envIntOr("LUMIVOICE_SEGMENT_MIN_CHARS", 10),

		WSPingInterval:      envDurationOr("LUMIVOICE_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("LUMIVOICE_WS_WRITE_TIMEOUT", 5*time.Second),
		MaxSessionDuration:  envDurationOr("LUMIVOICE_MAX_SESSION_DURATION", 2*time.Hour),
		PlaybackGrace:       envDurationOr("LUMIVOICE_PLAYBACK_GRACE", 200*time.Millisecond),
		ReadHeaderTimeout:   envDurationOr("LUMIVOICE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("LUMIVOICE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if !cfg.DevMemory && strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("LUMIVOICE_DATABASE_URL must be set unless LUMIVOICE_DEV_MEMORY=true")
	}
	if !cfg.DevMemory {
		if strings.TrimSpace(cfg.CartesiaAPIKey) == "" {
			return Config{}, fmt.Errorf("LUMIVOICE_CARTESIA_API_KEY must be set unless LUMIVOICE_DEV_MEMORY=true")
		}
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return Config{}, fmt.Errorf("LUMIVOICE_GEMINI_API_KEY must be set unless LUMIVOICE_DEV_MEMORY=true")
		}
	}
	if cfg.S3Bucket == "" && strings.TrimSpace(cfg.AudioDir) == "" {
		return Config{}, fmt.Errorf("LUMIVOICE_AUDIO_DIR must be set when LUMIVOICE_S3_BUCKET is empty")
	}
	if cfg.MaxTokens <= 0 {
		return Config{}, fmt.Errorf("LUMIVOICE_MAX_TOKENS must be > 0")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return Config{}, fmt.Errorf("LUMIVOICE_TEMPERATURE must be in [0, 2]")
	}
	if cfg.MaxHistoryTurns <= 0 {
		return Config{}, fmt.Errorf("LUMIVOICE_MAX_HISTORY_TURNS must be > 0")
	}
	if cfg.FrameMs <= 0 {
		return Config{}, fmt.Errorf("LUMIVOICE_FRAME_MS must be > 0")
	}
	if cfg.SpeechStartFrames <= 0 {
		return Config{}, fmt.Errorf("LUMIVOICE_SPEECH_START_FRAMES must be > 0")
	}
	if cfg.SpeechEndSilenceFrames <= 0 {
		return Config{}, fmt.Errorf("LUMIVOICE_SPEECH_END_SILENCE_FRAMES must be > 0")
	}
	if cfg.MaxUtteranceMs <= 0 {
		return Config{}, fmt.Errorf("LUMIVOICE_MAX_UTTERANCE_MS must be > 0")
	}
	if cfg.EnergyThreshold <= 0 || cfg.EnergyThreshold >= 1 {
		return Config{}, fmt.Errorf("LUMIVOICE_ENERGY_THRESHOLD must be in (0, 1)")
	}
	if cfg.SegmentMaxChars <= 0 {
		return Config{}, fmt.Errorf("LUMIVOICE_SEGMENT_MAX_CHARS must be > 0")
	}
	if cfg.SegmentMinChars <= 0 {
		return Config{}, fmt.Errorf("LUMIVOICE_SEGMENT_MIN_CHARS must be > 0")
	}
	if cfg.SegmentMinChars >= cfg.SegmentMaxChars {
		return Config{}, fmt.Errorf("LUMIVOICE_SEGMENT_MIN_CHARS must be < LUMIVOICE_SEGMENT_MAX_CHARS")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("LUMIVOICE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("LUMIVOICE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.MaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("LUMIVOICE_MAX_SESSION_DURATION must be > 0")
	}
	if cfg.PlaybackGrace <= 0 {
		return Config{}, fmt.Errorf("LUMIVOICE_PLAYBACK_GRACE must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("LUMIVOICE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("LUMIVOICE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
