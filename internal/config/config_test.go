package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8930" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8930")
	}
	if cfg.AssistBaseURL != "http://localhost:5000" {
		t.Fatalf("AssistBaseURL = %q, want default", cfg.AssistBaseURL)
	}
	if cfg.MinRecordDuration != time.Second {
		t.Fatalf("MinRecordDuration = %v, want 1s", cfg.MinRecordDuration)
	}
	if cfg.MQTTBroker != "" {
		t.Fatalf("MQTTBroker = %q, want empty default", cfg.MQTTBroker)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("ASSIST_BASE_URL", "http://assist.local:5050")
	t.Setenv("CAPTURE_MIN_DURATION", "750ms")
	t.Setenv("CAPTURE_SAMPLE_RATE", "44100")
	t.Setenv("STORE_SCRUB_PII", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AssistBaseURL != "http://assist.local:5050" {
		t.Fatalf("AssistBaseURL = %q, want explicit value", cfg.AssistBaseURL)
	}
	if cfg.MinRecordDuration != 750*time.Millisecond {
		t.Fatalf("MinRecordDuration = %v, want 750ms", cfg.MinRecordDuration)
	}
	if cfg.CaptureSampleRate != 44100 {
		t.Fatalf("CaptureSampleRate = %d, want 44100", cfg.CaptureSampleRate)
	}
	if !cfg.ScrubStoredPII {
		t.Fatalf("ScrubStoredPII = false, want true")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("ASSIST_TIMEOUT", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want parse error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"ASSIST_BASE_URL",
		"ASSIST_TIMEOUT",
		"ASSIST_SOURCE_DEVICE_MAC",
		"ASSIST_STT_MODEL",
		"ASSIST_LM_MODEL",
		"ASSIST_STT_DEVICE",
		"ASSIST_STT_LANGUAGE",
		"CAPTURE_COMMAND",
		"CAPTURE_DEVICE",
		"CAPTURE_DIR",
		"CAPTURE_SAMPLE_RATE",
		"CAPTURE_MIN_DURATION",
		"TTS_COMMAND",
		"TTS_VOICE",
		"MQTT_BROKER",
		"MQTT_CLIENT_ID",
		"MQTT_USERNAME",
		"MQTT_PASSWORD",
		"MQTT_COMMAND_TOPIC",
		"DATABASE_URL",
		"STORE_SCRUB_PII",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
