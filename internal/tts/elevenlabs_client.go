package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io"

// ElevenLabsParams are the "elevenlabs" provider parameters.
type ElevenLabsParams struct {
	VoiceID         string  `json:"voice_id"`
	ModelID         string  `json:"model_id"`
	Latency         int     `json:"optimize_streaming_latency"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	BaseURL         string  `json:"base_url,omitempty"`
}

// DefaultElevenLabsParams uses the flash model with a low-latency target.
func DefaultElevenLabsParams() ElevenLabsParams {
	return ElevenLabsParams{
		ModelID:         "eleven_flash_v2_5",
		Latency:         2,
		Stability:       0.4,
		SimilarityBoost: 0.7,
		BaseURL:         elevenLabsBaseURL,
	}
}

// ElevenLabsClient streams μ-law audio from the ElevenLabs HTTP streaming
// endpoint. The ulaw_8000 output format is forwarded unchanged.
type ElevenLabsClient struct {
	apiKey   string
	params   ElevenLabsParams
	logger   zerolog.Logger
	streamer *httpStreamer
}

// NewElevenLabsClient validates params and creates a client.
func NewElevenLabsClient(params ElevenLabsParams, opts Options) (*ElevenLabsClient, error) {
	if opts.ElevenLabsAPIKey == "" {
		return nil, fmt.Errorf("ELEVENLABS_API_KEY is not set")
	}
	if params.VoiceID == "" {
		return nil, fmt.Errorf("voice_id is required")
	}
	if params.Latency < 0 || params.Latency > 4 {
		return nil, fmt.Errorf("optimize_streaming_latency must be in [0, 4], got %d", params.Latency)
	}
	if params.BaseURL == "" {
		params.BaseURL = elevenLabsBaseURL
	}
	params.BaseURL = strings.TrimSuffix(params.BaseURL, "/")

	logger := opts.Logger.With().Str("component", "elevenlabs_tts").Logger()
	return &ElevenLabsClient{
		apiKey: opts.ElevenLabsAPIKey,
		params: params,
		logger: logger,
		streamer: &httpStreamer{
			vendor:  "elevenlabs",
			client:  opts.httpClient(),
			retry:   opts.Retry,
			breaker: opts.breaker("elevenlabs_tts"),
			logger:  logger,
		},
	}, nil
}

func (e *ElevenLabsClient) streamURL() string {
	q := url.Values{}
	q.Set("output_format", "ulaw_8000")
	q.Set("optimize_streaming_latency", strconv.Itoa(e.params.Latency))
	return e.params.BaseURL + "/v1/text-to-speech/" + url.PathEscape(e.params.VoiceID) + "/stream?" + q.Encode()
}

// Synthesize starts a streaming synthesis.
func (e *ElevenLabsClient) Synthesize(ctx context.Context, text string) (*Synthesis, error) {
	body := map[string]any{
		"model_id": e.params.ModelID,
		"text":     text,
		"voice_settings": map[string]any{
			"stability":        e.params.Stability,
			"similarity_boost": e.params.SimilarityBoost,
		},
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := e.streamer.open(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.streamURL(), bytes.NewReader(buf))
		if err != nil {
			return nil, err
		}
		req.Header.Set("xi-api-key", e.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/basic")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs synthesis failed: %w", err)
	}

	s := NewSynthesis(chunkBuffer)
	go e.streamer.pump(ctx, resp, s, func(b []byte) ([]byte, error) { return b, nil })
	return s, nil
}
