package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/lexiqai/voice-agent/internal/action"
	"github.com/lexiqai/voice-agent/internal/agent"
	"github.com/lexiqai/voice-agent/internal/call"
	"github.com/lexiqai/voice-agent/internal/config"
	"github.com/lexiqai/voice-agent/internal/conversation"
	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/resilience"
	"github.com/lexiqai/voice-agent/internal/stt"
	"github.com/lexiqai/voice-agent/internal/telephony"
	"github.com/lexiqai/voice-agent/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("agent_url", cfg.AgentURL).
		Str("providers_file", cfg.ProvidersFile).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Agent Service starting")

	doc, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load provider document")
	}

	breakerReset := time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond
	reconnect := resilience.DefaultReconnectConfig()
	reconnect.MaxAttempts = cfg.ReconnectMaxAttempts
	reconnect.Backoff = time.Duration(cfg.ReconnectBackoff) * time.Millisecond

	dialer := agent.NewDialer(agent.Options{
		Address:             cfg.AgentURL,
		TLSEnabled:          cfg.AgentTLSEnabled,
		DialTimeout:         cfg.AgentDialTimeout(),
		Retry:               retry,
		BreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
		BreakerResetTimeout: breakerReset,
		Logger:              logger,
	})
	defer dialer.Close()

	deps := conversation.Deps{
		STT: stt.Options{
			DeepgramAPIKey:        cfg.DeepgramAPIKey,
			GoogleCredentialsFile: cfg.GoogleCredentialsFile,
			BreakerMaxFailures:    cfg.CircuitBreakerMaxFailures,
			BreakerResetTimeout:   breakerReset,
			Reconnect:             reconnect,
			Logger:                logger,
		},
		TTS: tts.Options{
			CartesiaAPIKey:      cfg.CartesiaAPIKey,
			ElevenLabsAPIKey:    cfg.ElevenLabsAPIKey,
			Retry:               retry,
			BreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
			BreakerResetTimeout: breakerReset,
			Logger:              logger,
		},
		Agents: dialer,
	}
	// Without credentials call actions that need Twilio fail at resolution.
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		deps.Calls = action.NewTwilioControl(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
	} else {
		logger.Warn().Msg("Twilio credentials not set, call control actions unavailable")
	}

	registries, err := conversation.NewRegistries(deps)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to register providers")
	}
	providers := conversation.NewProviders(doc, registries)

	// Resolve once so a bad document fails at startup rather than on the first call.
	resolved, err := providers.ResolveAll()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid provider configuration")
	}
	if err := resolved.Transcriber.Close(); err != nil {
		logger.Warn().Err(err).Msg("Error closing validation transcriber")
	}

	checks := map[string]observability.HealthCheckFunc{
		"agent": dialer.HealthCheck,
	}

	var store call.Store = call.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		redisStore := call.NewRedisStore(rdb, time.Duration(cfg.RedisStatusTTL)*time.Second)
		store = redisStore
		checks["redis"] = redisStore.Ping
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Call statuses stored in Redis")
	}

	mux := http.NewServeMux()
	telephony.NewHandler(cfg, providers, store, logger).Register(mux)
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No write timeout: media streams are long-lived websockets.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("public_url", cfg.PublicURL).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
