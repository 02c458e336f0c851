package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the aria client daemon.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Remote assistant server (speech-to-text + LM endpoints).
	AssistBaseURL      string
	AssistTimeout      time.Duration
	SourceDeviceMAC    string
	DefaultSTTModel    string
	DefaultLMModel     string
	TranscribeDevice   string
	TranscribeLanguage string

	// Microphone capture.
	CaptureCommand    string
	CaptureDevice     string
	CaptureSampleRate int
	CaptureDir        string
	MinRecordDuration time.Duration

	// Local speech synthesis.
	TTSCommand string
	TTSVoice   string

	// Peripheral command dispatch.
	MQTTBroker       string
	MQTTClientID     string
	MQTTUsername     string
	MQTTPassword     string
	MQTTCommandTopic string

	DatabaseURL    string
	ScrubStoredPII bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8930"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "aria"),
		AllowAnyOrigin:     false,
		AssistBaseURL:      envOrDefault("ASSIST_BASE_URL", "http://localhost:5000"),
		SourceDeviceMAC:    envOrDefault("ASSIST_SOURCE_DEVICE_MAC", "00:00:00:00:00:00"),
		DefaultSTTModel:    envOrDefault("ASSIST_STT_MODEL", "small"),
		DefaultLMModel:     envOrDefault("ASSIST_LM_MODEL", "gemini-2.5-flash-lite"),
		TranscribeDevice:   envOrDefault("ASSIST_STT_DEVICE", "auto"),
		TranscribeLanguage: stringsTrimSpace("ASSIST_STT_LANGUAGE"),
		// ffmpeg reads the default input device; swap for arecord/sox via env.
		CaptureCommand:    envOrDefault("CAPTURE_COMMAND", "ffmpeg"),
		CaptureDevice:     envOrDefault("CAPTURE_DEVICE", "default"),
		CaptureDir:        envOrDefault("CAPTURE_DIR", os.TempDir()),
		CaptureSampleRate: 16000,
		TTSCommand:        envOrDefault("TTS_COMMAND", "espeak-ng --stdin"),
		TTSVoice:          envOrDefault("TTS_VOICE", ""),
		MQTTBroker:        stringsTrimSpace("MQTT_BROKER"),
		MQTTClientID:      envOrDefault("MQTT_CLIENT_ID", "aria-client"),
		MQTTUsername:      stringsTrimSpace("MQTT_USERNAME"),
		MQTTPassword:      os.Getenv("MQTT_PASSWORD"),
		MQTTCommandTopic:  envOrDefault("MQTT_COMMAND_TOPIC", "aria/devices"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:   15 * time.Second,
		AssistTimeout:     60 * time.Second,
		MinRecordDuration: time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AssistTimeout, err = durationFromEnv("ASSIST_TIMEOUT", cfg.AssistTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MinRecordDuration, err = durationFromEnv("CAPTURE_MIN_DURATION", cfg.MinRecordDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureSampleRate, err = intFromEnv("CAPTURE_SAMPLE_RATE", cfg.CaptureSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ScrubStoredPII, err = boolFromEnv("STORE_SCRUB_PII", cfg.ScrubStoredPII)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.AssistBaseURL) == "" {
		return Config{}, fmt.Errorf("ASSIST_BASE_URL must not be empty")
	}
	if cfg.AssistTimeout < time.Second {
		return Config{}, fmt.Errorf("ASSIST_TIMEOUT must be at least 1s")
	}
	if cfg.MinRecordDuration < 0 {
		return Config{}, fmt.Errorf("CAPTURE_MIN_DURATION must not be negative")
	}
	if cfg.CaptureSampleRate <= 0 {
		return Config{}, fmt.Errorf("CAPTURE_SAMPLE_RATE must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
