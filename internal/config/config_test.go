package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lexiqai/voice-agent/internal/provider"
)

func TestLoad(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	t.Setenv("CARTESIA_API_KEY", "test-cartesia-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}
	if cfg.CartesiaAPIKey != "test-cartesia-key" {
		t.Errorf("Expected CartesiaAPIKey 'test-cartesia-key', got '%s'", cfg.CartesiaAPIKey)
	}
}

func TestLoad_CredentialsOptional(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")
	t.Setenv("CARTESIA_API_KEY", "")

	// credentials are checked when the provider needing them is resolved
	if _, err := LoadFromEnv(); err != nil {
		t.Errorf("Expected no error without credentials, got %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}
	if cfg.AgentURL != "localhost:50051" {
		t.Errorf("Expected default AgentURL 'localhost:50051', got '%s'", cfg.AgentURL)
	}
	if cfg.OutputChunkMs != 500 {
		t.Errorf("Expected default OutputChunkMs 500, got %d", cfg.OutputChunkMs)
	}
	if !cfg.AllowInterruptions {
		t.Error("Expected interruptions to be allowed by default")
	}
	if cfg.MinActivityDuration().Milliseconds() != 600 {
		t.Errorf("Expected default MinActivityDuration 600ms, got %v", cfg.MinActivityDuration())
	}
	if cfg.SpeechRatio != 0.8 {
		t.Errorf("Expected default SpeechRatio 0.8, got %v", cfg.SpeechRatio)
	}
	if cfg.MarkQueueCapacity != 1024 {
		t.Errorf("Expected default MarkQueueCapacity 1024, got %d", cfg.MarkQueueCapacity)
	}
	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
}

func TestLoad_InvalidTunables(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"speech ratio above one", "SPEECH_RATIO", "1.5"},
		{"speech ratio of one", "SPEECH_RATIO", "1"},
		{"speech ratio zero", "SPEECH_RATIO", "0"},
		{"negative debounce", "MIN_ACTIVITY_DURATION_MS", "-1"},
		{"zero chunk", "OUTPUT_CHUNK_MS", "0"},
		{"zero mark capacity", "MARK_QUEUE_CAPACITY", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadFromEnv(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	if value := GetEnv("TEST_VAR", "default"); value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}
	if value := GetEnv("NON_EXISTENT_VAR", "default"); value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestLoadProviders_EmbeddedDefault(t *testing.T) {
	p, err := LoadProviders("")
	if err != nil {
		t.Fatalf("LoadProviders() failed: %v", err)
	}

	if p.Transcriber.Type != "deepgram" {
		t.Errorf("Expected transcriber 'deepgram', got '%s'", p.Transcriber.Type)
	}
	if p.VAD.Type != "energy" {
		t.Errorf("Expected vad 'energy', got '%s'", p.VAD.Type)
	}
	if len(p.Actions) != 1 {
		t.Errorf("Expected 1 default action, got %d", len(p.Actions))
	}
	if p.InitialMessage == "" {
		t.Error("Expected a default initial message")
	}
}

func TestLoadProviders_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	doc := `{
		"transcriber": {"type": "google"},
		"synthesizer": {"type": "elevenlabs", "voice_id": "v"},
		"agent": {"type": "echo"},
		"vad": {"type": "adaptive_energy"}
	}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProviders(path)
	if err != nil {
		t.Fatalf("LoadProviders() failed: %v", err)
	}

	// optional capabilities default to passthrough
	if p.NoiseCanceler.Type != "none" {
		t.Errorf("Expected noise canceler 'none', got '%s'", p.NoiseCanceler.Type)
	}
	if p.ContextTracker.Type != "none" {
		t.Errorf("Expected context tracker 'none', got '%s'", p.ContextTracker.Type)
	}
}

func TestParseProviders_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown top-level field", `{"transcriber":{"type":"deepgram"},"synthesizer":{"type":"cartesia"},"agent":{"type":"echo"},"vad":{"type":"energy"},"extra":1}`},
		{"missing discriminator", `{"transcriber":{"model":"nova-2"},"synthesizer":{"type":"cartesia"},"agent":{"type":"echo"},"vad":{"type":"energy"}}`},
		{"nested action without discriminator", `{"transcriber":{"type":"deepgram"},"synthesizer":{"type":"cartesia"},"agent":{"type":"echo"},"vad":{"type":"energy"},"actions":[{"phone_number":"+1"}]}`},
		{"missing agent", `{"transcriber":{"type":"deepgram"},"synthesizer":{"type":"cartesia"},"vad":{"type":"energy"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseProviders([]byte(tt.doc)); err == nil {
				t.Error("Expected parse error")
			}
		})
	}
}

func TestParseProviders_DuplicateAction(t *testing.T) {
	doc := `{"transcriber":{"type":"deepgram"},"synthesizer":{"type":"cartesia"},"agent":{"type":"echo"},"vad":{"type":"energy"},
		"actions":[{"type":"end_conversation"},{"type":"end_conversation"}]}`

	_, err := ParseProviders([]byte(doc))
	if !errors.Is(err, provider.ErrDuplicateProvider) {
		t.Errorf("Expected ErrDuplicateProvider, got %v", err)
	}
}
