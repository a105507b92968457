package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/lexiqai/voice-agent/internal/resilience"
)

// GoogleParams are the "google" provider parameters.
type GoogleParams struct {
	LanguageCode string `json:"language_code"`
	Model        string `json:"model"`
	SampleRate   int    `json:"sample_rate"`
	UseEnhanced  bool   `json:"use_enhanced"`
}

// DefaultGoogleParams uses the telephony model at 8kHz.
func DefaultGoogleParams() GoogleParams {
	return GoogleParams{
		LanguageCode: "en-US",
		Model:        "phone_call",
		SampleRate:   8000,
		UseEnhanced:  true,
	}
}

// GoogleClient implements Transcriber with Cloud Speech streaming recognition.
// Google ends streams after a few minutes; the receive loop reopens them.
type GoogleClient struct {
	params         GoogleParams
	opts           Options
	logger         zerolog.Logger
	circuitBreaker *resilience.CircuitBreaker

	mu         sync.Mutex
	client     *speech.Client
	stream     speechpb.Speech_StreamingRecognizeClient
	transcript chan *TranscriptionResult
	closed     bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewGoogleClient creates a client. No connection is made until Start.
func NewGoogleClient(params GoogleParams, opts Options) (*GoogleClient, error) {
	if params.SampleRate <= 0 {
		return nil, fmt.Errorf("sample_rate must be positive")
	}
	if params.LanguageCode == "" {
		return nil, fmt.Errorf("language_code is required")
	}
	return &GoogleClient{
		params:         params,
		opts:           opts,
		logger:         opts.Logger.With().Str("component", "google_stt").Logger(),
		circuitBreaker: opts.breaker("google_stt"),
		transcript:     make(chan *TranscriptionResult, transcriptBuffer),
	}, nil
}

// Start creates the Speech client and opens the first stream.
func (g *GoogleClient) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return errors.New("google transcriber is closed")
	}
	if g.client != nil {
		return nil
	}

	var clientOpts []option.ClientOption
	if g.opts.GoogleCredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(g.opts.GoogleCredentialsFile))
	}

	g.ctx, g.cancel = context.WithCancel(ctx)
	client, err := speech.NewClient(g.ctx, clientOpts...)
	if err != nil {
		g.cancel()
		return fmt.Errorf("failed to create speech client: %w", err)
	}
	g.client = client

	stream, err := g.openStream()
	if err != nil {
		return err
	}
	go g.receive(stream)

	g.logger.Info().
		Str("language", g.params.LanguageCode).
		Str("model", g.params.Model).
		Msg("Google streaming recognition started")
	return nil
}

// openStream must be called with mu held.
func (g *GoogleClient) openStream() (speechpb.Speech_StreamingRecognizeClient, error) {
	stream, err := g.client.StreamingRecognize(g.ctx)
	if err != nil {
		g.circuitBreaker.RecordResult(false)
		return nil, fmt.Errorf("could not start streaming recognize: %w", err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            int32(g.params.SampleRate),
					LanguageCode:               g.params.LanguageCode,
					Model:                      g.params.Model,
					UseEnhanced:                g.params.UseEnhanced,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: true,
			},
		},
	})
	if err != nil {
		g.circuitBreaker.RecordResult(false)
		return nil, fmt.Errorf("could not send streaming config: %w", err)
	}

	g.circuitBreaker.RecordResult(true)
	g.stream = stream
	return stream, nil
}

func (g *GoogleClient) receive(stream speechpb.Speech_StreamingRecognizeClient) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			if g.ctx.Err() != nil {
				return
			}
			if !errors.Is(err, io.EOF) {
				g.logger.Warn().Err(err).Msg("Speech stream ended, reopening")
				g.circuitBreaker.RecordResult(false)
			}
			next, rerr := g.reopen()
			if rerr != nil {
				g.logger.Error().Err(rerr).Msg("Failed to reopen speech stream")
				return
			}
			stream = next
			continue
		}

		for _, r := range transcriptsFromResponse(resp) {
			g.deliver(r)
		}
	}
}

// transcriptsFromResponse keeps the top alternative of every result that has
// text. Google reports result end offsets only, so StartTime stays zero.
func transcriptsFromResponse(resp *speechpb.StreamingRecognizeResponse) []*TranscriptionResult {
	var out []*TranscriptionResult
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 || alts[0].GetTranscript() == "" {
			continue
		}
		out = append(out, &TranscriptionResult{
			Text:       alts[0].GetTranscript(),
			IsFinal:    result.GetIsFinal(),
			Confidence: float64(alts[0].GetConfidence()),
			Duration:   result.GetResultEndTime().AsDuration().Seconds(),
		})
	}
	return out
}

func (g *GoogleClient) reopen() (speechpb.Speech_StreamingRecognizeClient, error) {
	var stream speechpb.Speech_StreamingRecognizeClient
	err := resilience.Reconnect(g.ctx, g.logger, func(ctx context.Context) error {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.closed {
			return context.Canceled
		}
		s, err := g.openStream()
		if err != nil {
			return err
		}
		stream = s
		return nil
	}, g.opts.Reconnect)
	return stream, err
}

func (g *GoogleClient) deliver(result *TranscriptionResult) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	select {
	case g.transcript <- result:
	default:
		g.logger.Warn().Msg("Transcript channel full, dropping transcription")
	}
}

// SendAudio streams one frame of audio.
func (g *GoogleClient) SendAudio(audioData []byte) error {
	err := g.circuitBreaker.Call(func() error {
		g.mu.Lock()
		defer g.mu.Unlock()

		if g.closed || g.stream == nil {
			return errNotActive
		}
		if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: audioData},
		}); err != nil {
			return fmt.Errorf("failed to send audio to Google: %w", err)
		}
		return nil
	})
	return err
}

// Transcriptions returns the channel of transcription results.
func (g *GoogleClient) Transcriptions() <-chan *TranscriptionResult {
	return g.transcript
}

// Close half-closes the stream, releases the client and closes the channel.
func (g *GoogleClient) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	close(g.transcript)
	stream, client := g.stream, g.client
	g.stream = nil
	g.mu.Unlock()

	if stream != nil {
		if err := stream.CloseSend(); err != nil {
			g.logger.Debug().Err(err).Msg("CloseSend failed")
		}
	}
	if g.cancel != nil {
		g.cancel()
	}
	if client != nil {
		return client.Close()
	}
	return nil
}
