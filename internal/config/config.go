package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice agent service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev when behind ngrok).
	// Used to build the wss:// stream URL returned in TwiML and for logging.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Provider document (JSON). Empty uses the embedded defaults.
	ProvidersFile string `envconfig:"PROVIDERS_FILE" default:""`

	// Speech-to-text credentials
	DeepgramAPIKey        string `envconfig:"DEEPGRAM_API_KEY"`
	GoogleCredentialsFile string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`

	// Text-to-speech credentials
	CartesiaAPIKey   string `envconfig:"CARTESIA_API_KEY"`
	ElevenLabsAPIKey string `envconfig:"ELEVENLABS_API_KEY"`

	// Twilio REST credentials, used by call actions
	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`

	// Remote dialogue agent (gRPC)
	AgentURL        string `envconfig:"AGENT_URL" default:"localhost:50051"`
	AgentTLSEnabled bool   `envconfig:"AGENT_TLS_ENABLED" default:"false"`
	AgentTimeout    int    `envconfig:"AGENT_TIMEOUT" default:"30"` // seconds

	// Call status store. Empty RedisAddr keeps statuses in memory.
	RedisAddr      string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword  string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	RedisStatusTTL int    `envconfig:"REDIS_STATUS_TTL" default:"86400"` // seconds

	// Audio and interruption tuning
	OutputChunkMs           int     `envconfig:"OUTPUT_CHUNK_MS" default:"500"`           // Playback chunk duration
	AllowInterruptions      bool    `envconfig:"ALLOW_INTERRUPTIONS" default:"true"`      // Barge-in enabled
	MinActivityDurationMs   int     `envconfig:"MIN_ACTIVITY_DURATION_MS" default:"600"`  // Debounce window
	SpeechRatio             float64 `envconfig:"SPEECH_RATIO" default:"0.8"`              // Hysteresis threshold
	FinishSentenceThreshold float64 `envconfig:"FINISH_SENTENCE_THRESHOLD" default:"0.8"` // Share of a sentence protected from barge-in
	MarkQueueCapacity       int     `envconfig:"MARK_QUEUE_CAPACITY" default:"1024"`      // Marks buffered per utterance

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the numeric tunables. Provider credentials are checked when the
// provider that needs them is resolved.
func (c *Config) Validate() error {
	if c.SpeechRatio <= 0 || c.SpeechRatio >= 1 {
		return fmt.Errorf("SPEECH_RATIO must be in (0, 1), got %v", c.SpeechRatio)
	}
	if c.FinishSentenceThreshold <= 0 {
		return fmt.Errorf("FINISH_SENTENCE_THRESHOLD must be positive, got %v", c.FinishSentenceThreshold)
	}
	if c.MinActivityDurationMs <= 0 {
		return fmt.Errorf("MIN_ACTIVITY_DURATION_MS must be positive, got %d", c.MinActivityDurationMs)
	}
	if c.OutputChunkMs <= 0 {
		return fmt.Errorf("OUTPUT_CHUNK_MS must be positive, got %d", c.OutputChunkMs)
	}
	if c.MarkQueueCapacity <= 0 {
		return fmt.Errorf("MARK_QUEUE_CAPACITY must be positive, got %d", c.MarkQueueCapacity)
	}
	return nil
}

// MinActivityDuration is the interruption debounce window.
func (c *Config) MinActivityDuration() time.Duration {
	return time.Duration(c.MinActivityDurationMs) * time.Millisecond
}

// AgentDialTimeout bounds connection setup to the remote agent.
func (c *Config) AgentDialTimeout() time.Duration {
	return time.Duration(c.AgentTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
