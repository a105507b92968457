package stt

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/resilience"
)

// TranscriptionResult is one partial or final transcript from a transcriber.
type TranscriptionResult struct {
	// Text is the transcribed text
	Text string

	// IsFinal indicates if this is a final transcription (true) or interim (false)
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64

	// StartTime is the start time of the utterance in seconds
	StartTime float64

	// Duration is the duration of the utterance in seconds
	Duration float64
}

// Transcriber streams caller audio (8kHz 16-bit PCM) to a speech-to-text
// backend and delivers partial and final transcripts.
type Transcriber interface {
	// Start opens the streaming session.
	Start(ctx context.Context) error

	// SendAudio sends an audio frame to the service.
	SendAudio(audioData []byte) error

	// Transcriptions is closed after Close.
	Transcriptions() <-chan *TranscriptionResult

	// Close ends the session and releases resources.
	Close() error
}

// Options carries process-level settings shared by every transcriber.
type Options struct {
	DeepgramAPIKey        string
	GoogleCredentialsFile string

	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	Reconnect           *resilience.ReconnectConfig

	Logger zerolog.Logger
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

const transcriptBuffer = 100
