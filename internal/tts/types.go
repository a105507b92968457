package tts

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/resilience"
)

// Synthesizer turns text into telephony audio (8kHz μ-law).
type Synthesizer interface {
	// Synthesize starts synthesis of text. Audio arrives on the returned
	// Synthesis until it completes, fails, or ctx is cancelled.
	Synthesize(ctx context.Context, text string) (*Synthesis, error)
}

// Synthesis is one in-flight synthesis. Chunks is bounded and closed when the
// producer finishes; Err is valid once Chunks is closed.
type Synthesis struct {
	chunks chan []byte

	mu  sync.Mutex
	err error
}

// NewSynthesis creates a synthesis whose channel buffers up to buffer chunks.
func NewSynthesis(buffer int) *Synthesis {
	if buffer <= 0 {
		buffer = 1
	}
	return &Synthesis{chunks: make(chan []byte, buffer)}
}

// Chunks returns the audio channel.
func (s *Synthesis) Chunks() <-chan []byte {
	return s.chunks
}

// Err returns the error that ended synthesis, or nil.
func (s *Synthesis) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emit delivers one chunk, blocking until the consumer takes it or ctx is done.
func (s *Synthesis) Emit(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	select {
	case s.chunks <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish records err and closes the channel. Call exactly once.
func (s *Synthesis) Finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.chunks)
}

// Options carries process-level settings shared by every synthesizer.
type Options struct {
	CartesiaAPIKey   string
	ElevenLabsAPIKey string

	HTTPClient          *http.Client
	Retry               *resilience.RetryConfig
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	Logger zerolog.Logger
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	// No overall timeout: bodies stream for as long as the utterance lasts
	return &http.Client{}
}

func (o Options) breaker(name string) *resilience.CircuitBreaker {
	maxFailures := o.BreakerMaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	reset := o.BreakerResetTimeout
	if reset <= 0 {
		reset = 30 * time.Second
	}
	return resilience.NewCircuitBreaker(name, maxFailures, reset).Observe(observability.BreakerMetrics{})
}

const (
	chunkBuffer = 16
	readSize    = 4096
	telephonyHz = 8000
)
