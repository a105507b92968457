package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

const (
	cartesiaBaseURL    = "https://api.cartesia.ai"
	cartesiaAPIVersion = "2025-04-16"
)

// CartesiaParams are the "cartesia" provider parameters.
type CartesiaParams struct {
	ModelID    string  `json:"model_id"`
	VoiceID    string  `json:"voice_id"`
	Language   string  `json:"language"`
	SampleRate int     `json:"sample_rate"`
	Speed      float64 `json:"speed,omitempty"`
	BaseURL    string  `json:"base_url,omitempty"`
}

// DefaultCartesiaParams requests 24kHz PCM, converted locally to 8kHz μ-law.
func DefaultCartesiaParams() CartesiaParams {
	return CartesiaParams{
		ModelID:    "sonic",
		VoiceID:    "a0e99841-438c-4a64-b679-ae501e7d6091",
		Language:   "en",
		SampleRate: 24000,
		BaseURL:    cartesiaBaseURL,
	}
}

// CartesiaClient implements Synthesizer using Cartesia's bytes endpoint
type CartesiaClient struct {
	apiKey   string
	params   CartesiaParams
	logger   zerolog.Logger
	streamer *httpStreamer
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaGeneration struct {
	Speed float64 `json:"speed"`
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	ModelID          string               `json:"model_id"`
	Transcript       string               `json:"transcript"`
	Voice            cartesiaVoice        `json:"voice"`
	OutputFormat     cartesiaOutputFormat `json:"output_format"`
	Language         string               `json:"language,omitempty"`
	GenerationConfig *cartesiaGeneration  `json:"generation_config,omitempty"`
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(params CartesiaParams, opts Options) (*CartesiaClient, error) {
	if opts.CartesiaAPIKey == "" {
		return nil, fmt.Errorf("CARTESIA_API_KEY is not set")
	}
	if params.VoiceID == "" {
		return nil, fmt.Errorf("voice_id is required")
	}
	if params.SampleRate <= 0 {
		return nil, fmt.Errorf("sample_rate must be positive")
	}
	if params.BaseURL == "" {
		params.BaseURL = cartesiaBaseURL
	}
	params.BaseURL = strings.TrimSuffix(params.BaseURL, "/")

	logger := opts.Logger.With().Str("component", "cartesia_tts").Logger()
	return &CartesiaClient{
		apiKey: opts.CartesiaAPIKey,
		params: params,
		logger: logger,
		streamer: &httpStreamer{
			vendor:  "cartesia",
			client:  opts.httpClient(),
			retry:   opts.Retry,
			breaker: opts.breaker("cartesia_tts"),
			logger:  logger,
		},
	}, nil
}

// Synthesize converts text to audio and streams it
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) (*Synthesis, error) {
	reqBody := CartesiaRequest{
		ModelID:    c.params.ModelID,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: c.params.VoiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.params.SampleRate,
		},
		Language: c.params.Language,
	}
	if c.params.Speed != 0 {
		reqBody.GenerationConfig = &cartesiaGeneration{Speed: c.params.Speed}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.streamer.open(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.params.BaseURL+"/tts/bytes", bytes.NewReader(jsonData))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", c.apiKey)
		req.Header.Set("Cartesia-Version", cartesiaAPIVersion)
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("cartesia synthesis failed: %w", err)
	}

	// Cartesia outputs PCM at the requested rate, Twilio needs μ-law at 8kHz
	conv := newPCMToMulaw(c.params.SampleRate)
	s := NewSynthesis(chunkBuffer)
	go c.streamer.pump(ctx, resp, s, conv.convert)
	return s, nil
}
