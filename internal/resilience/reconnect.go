package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ReconnectConfig controls how a dropped vendor stream is re-established.
type ReconnectConfig struct {
	MaxAttempts int
	Backoff     time.Duration // first wait
	Multiplier  float64
	MaxBackoff  time.Duration
}

// DefaultReconnectConfig returns a default reconnection configuration
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     1 * time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// Reconnect calls dial until it succeeds, logging each failed attempt. Unlike
// Retry every error is treated as transient.
func Reconnect(ctx context.Context, logger zerolog.Logger, dial func(ctx context.Context) error, config *ReconnectConfig) error {
	if config == nil {
		config = DefaultReconnectConfig()
	}

	backoff := config.Backoff
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = dial(ctx)
		if lastErr == nil {
			if attempt > 0 {
				logger.Info().Int("attempts", attempt+1).Msg("Reconnection successful")
			}
			return nil
		}

		if attempt == config.MaxAttempts-1 {
			break
		}

		logger.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxAttempts).
			Dur("backoff", backoff).
			Msg("Reconnection attempt failed, retrying")

		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = min(time.Duration(float64(backoff)*config.Multiplier), config.MaxBackoff)
	}

	return fmt.Errorf("failed to reconnect after %d attempts: %w", config.MaxAttempts, lastErr)
}
