package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryConfig controls Retry. Waits grow from InitialBackoff by
// BackoffMultiplier per attempt and are capped at MaxBackoff.
type RetryConfig struct {
	MaxAttempts       int // including the first
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            bool // add up to 25% to each wait
}

// DefaultRetryConfig suits short request/response calls to vendor APIs.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay returns the wait after the given zero-based failed attempt.
func (c *RetryConfig) Delay(attempt int) time.Duration {
	d := time.Duration(float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(attempt)))
	if d > c.MaxBackoff || d < 0 {
		d = c.MaxBackoff
	}
	if c.Jitter && d > 0 {
		d += time.Duration(rand.Int64N(int64(d)/4 + 1))
	}
	return d
}

// Retry calls fn until it succeeds or runs out of attempts. It stops early on
// an error shouldRetry rejects (nil retries everything) and when ctx is done,
// in which case the last error from fn is returned if there is one.
func Retry(ctx context.Context, fn func(ctx context.Context) error, config *RetryConfig, shouldRetry func(error) bool) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var err error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if attempt > 0 && !sleep(ctx, config.Delay(attempt-1)) {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			if err == nil {
				err = cerr
			}
			return err
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
	}
	return err
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var transientMessages = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"transport is closing",
	"unavailable",
	"network is unreachable",
	"no route to host",
	"deadline exceeded",
	"timeout",
	"resource exhausted",
	"too many connections",
	"rate limit",
}

// IsRetryableNetworkError reports whether err looks transient. gRPC status
// errors are classified by code, everything else by message.
func IsRetryableNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		case codes.Unknown:
			// plain errors land here too
		default:
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	for _, s := range transientMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
