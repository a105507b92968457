package stt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-agent/internal/resilience"
)

var errNotActive = errors.New("transcriber is not active")

// DeepgramParams are the "deepgram" provider parameters.
type DeepgramParams struct {
	Model          string `json:"model"`
	Language       string `json:"language"`
	Encoding       string `json:"encoding"` // linear16 or mulaw
	SampleRate     int    `json:"sample_rate"`
	EndpointingMs  int    `json:"endpointing_ms"`
	UtteranceEndMs int    `json:"utterance_end_ms"`
	SmartFormat    bool   `json:"smart_format"`
}

// DefaultDeepgramParams matches the decoded 8kHz PCM the input stage produces.
func DefaultDeepgramParams() DeepgramParams {
	return DeepgramParams{
		Model:          "nova-2",
		Language:       "en",
		Encoding:       "linear16",
		SampleRate:     8000,
		EndpointingMs:  300,
		UtteranceEndMs: 1000,
		SmartFormat:    true,
	}
}

func (p DeepgramParams) liveOptions() *interfaces.LiveTranscriptionOptions {
	return &interfaces.LiveTranscriptionOptions{
		Model:          p.Model,
		Language:       p.Language,
		Punctuate:      true,
		SmartFormat:    p.SmartFormat,
		InterimResults: true,
		UtteranceEndMs: strconv.Itoa(p.UtteranceEndMs),
		Endpointing:    strconv.Itoa(p.EndpointingMs),
		VadEvents:      true,
		Encoding:       p.Encoding,
		Channels:       1,
		SampleRate:     p.SampleRate,
	}
}

// deepgramCallback routes SDK events back to the client. Events it does not
// override go to the SDK's default handler, which only logs them.
type deepgramCallback struct {
	*websocketv1api.DefaultCallbackHandler
	d *DeepgramClient
}

func (cb deepgramCallback) Message(msg *msginterfaces.MessageResponse) error {
	if r := transcriptFromMessage(msg); r != nil {
		cb.d.deliver(r)
	}
	return nil
}

func (cb deepgramCallback) Error(resp *msginterfaces.ErrorResponse) error {
	cb.d.logger.Error().Interface("response", resp).Msg("Deepgram error")
	cb.d.circuitBreaker.RecordResult(false)
	cb.d.lost()
	return nil
}

// DeepgramClient implements Transcriber using Deepgram's streaming API
type DeepgramClient struct {
	params         DeepgramParams
	opts           Options
	logger         zerolog.Logger
	circuitBreaker *resilience.CircuitBreaker

	mu         sync.RWMutex
	client     *listenClient.WSCallback
	transcript chan *TranscriptionResult
	isActive   bool
	closed     bool
	ctx        context.Context
	cancel     context.CancelFunc

	reconnecting atomic.Bool
}

// NewDeepgramClient creates a new Deepgram streaming client
func NewDeepgramClient(params DeepgramParams, opts Options) (*DeepgramClient, error) {
	switch params.Encoding {
	case "linear16", "mulaw":
	default:
		return nil, fmt.Errorf("unsupported deepgram encoding %q", params.Encoding)
	}
	if params.SampleRate <= 0 {
		return nil, fmt.Errorf("sample_rate must be positive")
	}

	return &DeepgramClient{
		params:         params,
		opts:           opts,
		logger:         opts.Logger.With().Str("component", "deepgram").Logger(),
		circuitBreaker: opts.breaker("deepgram"),
		transcript:     make(chan *TranscriptionResult, transcriptBuffer),
	}, nil
}

// Start begins a new Deepgram streaming transcription session
func (d *DeepgramClient) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("deepgram client is closed")
	}
	if d.ctx == nil {
		d.ctx, d.cancel = context.WithCancel(ctx)
	}
	d.mu.Unlock()

	return d.connect()
}

func (d *DeepgramClient) connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.closed:
		return errNotActive
	case d.isActive:
		return nil
	}

	callback := deepgramCallback{DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(), d: d}
	client, err := listenClient.NewWSUsingCallback(d.ctx, d.opts.DeepgramAPIKey, nil, d.params.liveOptions(), callback)
	if err != nil {
		d.circuitBreaker.RecordResult(false)
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		d.circuitBreaker.RecordResult(false)
		return errors.New("failed to connect to Deepgram")
	}

	d.client = client
	d.isActive = true
	d.circuitBreaker.RecordResult(true)

	d.logger.Info().
		Str("model", d.params.Model).
		Str("language", d.params.Language).
		Str("encoding", d.params.Encoding).
		Msg("Deepgram streaming client started")
	return nil
}

// transcriptFromMessage returns nil for messages without a transcript. Word
// timings fill in the span when the message carries no duration.
func transcriptFromMessage(msg *msginterfaces.MessageResponse) *TranscriptionResult {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return nil
	}
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}

	r := &TranscriptionResult{
		Text:       alt.Transcript,
		IsFinal:    msg.IsFinal,
		Confidence: alt.Confidence,
		StartTime:  msg.Start,
		Duration:   msg.Duration,
	}
	if n := len(alt.Words); n > 0 && r.Duration == 0 {
		r.StartTime = alt.Words[0].Start
		r.Duration = alt.Words[n-1].End - r.StartTime
	}
	return r
}

// lost marks the connection dead and starts one background reconnect.
func (d *DeepgramClient) lost() {
	if d.ctx.Err() != nil {
		return
	}
	d.mu.Lock()
	d.isActive = false
	d.mu.Unlock()

	if !d.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer d.reconnecting.Store(false)
		err := resilience.Reconnect(d.ctx, d.logger, func(context.Context) error {
			return d.connect()
		}, d.opts.Reconnect)
		if err != nil && d.ctx.Err() == nil {
			d.logger.Error().Err(err).Msg("Failed to reconnect Deepgram client")
		}
	}()
}

// deliver hands a result to the reader without blocking the SDK's read loop.
func (d *DeepgramClient) deliver(result *TranscriptionResult) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}
	select {
	case d.transcript <- result:
		d.logger.Debug().
			Bool("is_final", result.IsFinal).
			Float64("confidence", result.Confidence).
			Str("text", result.Text).
			Msg("Deepgram transcription")
	default:
		d.logger.Warn().Msg("Transcript channel full, dropping transcription")
	}
}

// SendAudio writes one frame to the live stream. A failed write drops the
// connection and reconnects in the background; frames sent meanwhile fail
// with errNotActive.
func (d *DeepgramClient) SendAudio(audioData []byte) error {
	return d.circuitBreaker.Call(func() error {
		d.mu.RLock()
		client := d.client
		active := d.isActive && client != nil
		d.mu.RUnlock()
		if !active {
			return errNotActive
		}

		if _, err := client.Write(audioData); err != nil {
			d.lost()
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})
}

// Transcriptions returns the channel of transcription results
func (d *DeepgramClient) Transcriptions() <-chan *TranscriptionResult {
	return d.transcript
}

// Close finishes the stream and closes the transcript channel
func (d *DeepgramClient) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	client := d.client
	wasActive := d.isActive
	d.isActive = false
	d.closed = true
	close(d.transcript)
	d.mu.Unlock()

	// Finish waits on the SDK's read loop, which may be inside deliver
	if wasActive && client != nil {
		client.Finish()
	}
	if d.cancel != nil {
		d.cancel()
	}

	d.logger.Info().Msg("Deepgram streaming client stopped")
	return nil
}

// IsActive returns whether the client is currently active
func (d *DeepgramClient) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}
