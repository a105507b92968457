package stt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/lexiqai/voice-agent/internal/provider"
)

func deepgramMessage(t *testing.T, raw string) *msginterfaces.MessageResponse {
	t.Helper()
	var msg msginterfaces.MessageResponse
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}
	return &msg
}

func TestTranscriptFromMessage(t *testing.T) {
	msg := deepgramMessage(t, `{
		"type": "Results", "is_final": true, "start": 1.5, "duration": 0.8,
		"channel": {"alternatives": [{"transcript": "book a table", "confidence": 0.93}]}
	}`)

	r := transcriptFromMessage(msg)
	if r == nil {
		t.Fatal("Expected a transcript")
	}
	if r.Text != "book a table" || !r.IsFinal {
		t.Errorf("Expected final %q, got %+v", "book a table", r)
	}
	if r.Confidence != 0.93 || r.StartTime != 1.5 || r.Duration != 0.8 {
		t.Errorf("Expected confidence 0.93 start 1.5 duration 0.8, got %+v", r)
	}
}

func TestTranscriptFromMessage_WordTimings(t *testing.T) {
	msg := deepgramMessage(t, `{
		"type": "Results", "is_final": false,
		"channel": {"alternatives": [{"transcript": "hello there", "words": [
			{"word": "hello", "start": 2.0, "end": 2.4},
			{"word": "there", "start": 2.5, "end": 3.0}
		]}]}
	}`)

	r := transcriptFromMessage(msg)
	if r == nil {
		t.Fatal("Expected a transcript")
	}
	if r.IsFinal {
		t.Error("Expected an interim result")
	}
	if r.StartTime != 2.0 || r.Duration != 1.0 {
		t.Errorf("Expected start 2.0 duration 1.0 from words, got start %v duration %v", r.StartTime, r.Duration)
	}
}

func TestTranscriptFromMessage_Empty(t *testing.T) {
	if transcriptFromMessage(nil) != nil {
		t.Error("Expected nil for nil message")
	}
	for _, raw := range []string{
		`{"type": "Results", "channel": {"alternatives": []}}`,
		`{"type": "Results", "channel": {"alternatives": [{"transcript": ""}]}}`,
	} {
		if r := transcriptFromMessage(deepgramMessage(t, raw)); r != nil {
			t.Errorf("Expected nil for %s, got %+v", raw, r)
		}
	}
}

func TestTranscriptsFromResponse(t *testing.T) {
	resp := &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{
			{
				Alternatives:  []*speechpb.SpeechRecognitionAlternative{{Transcript: "cancel my order", Confidence: 0.5}},
				IsFinal:       true,
				ResultEndTime: durationpb.New(1500 * time.Millisecond),
			},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: ""}}},
			{},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "and"}}},
		},
	}

	got := transcriptsFromResponse(resp)
	if len(got) != 2 {
		t.Fatalf("Expected 2 transcripts, got %d", len(got))
	}
	if got[0].Text != "cancel my order" || !got[0].IsFinal || got[0].Duration != 1.5 || got[0].Confidence != 0.5 {
		t.Errorf("Unexpected first transcript %+v", got[0])
	}
	if got[1].Text != "and" || got[1].IsFinal {
		t.Errorf("Unexpected second transcript %+v", got[1])
	}
	if transcriptsFromResponse(nil) != nil {
		t.Error("Expected no transcripts for nil response")
	}
}

func TestNewDeepgramClient_Validation(t *testing.T) {
	opts := Options{DeepgramAPIKey: "dg", Logger: zerolog.Nop()}

	bad := DefaultDeepgramParams()
	bad.Encoding = "opus"
	if _, err := NewDeepgramClient(bad, opts); err == nil {
		t.Error("Expected error for unsupported encoding")
	}

	bad = DefaultDeepgramParams()
	bad.SampleRate = 0
	if _, err := NewDeepgramClient(bad, opts); err == nil {
		t.Error("Expected error for zero sample rate")
	}

	c, err := NewDeepgramClient(DefaultDeepgramParams(), opts)
	if err != nil {
		t.Fatalf("Expected default params to be valid, got %v", err)
	}
	if c.IsActive() {
		t.Error("Expected client to be inactive before Start")
	}
	if err := c.SendAudio([]byte{0, 0}); !errors.Is(err, errNotActive) {
		t.Errorf("Expected errNotActive before Start, got %v", err)
	}
}

func TestDeepgramClient_CloseIsIdempotent(t *testing.T) {
	c, err := NewDeepgramClient(DefaultDeepgramParams(), Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Expected nil on first close, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Expected nil on second close, got %v", err)
	}
	if _, ok := <-c.Transcriptions(); ok {
		t.Error("Expected transcript channel to be closed")
	}
}

func TestNewGoogleClient_Validation(t *testing.T) {
	bad := DefaultGoogleParams()
	bad.LanguageCode = ""
	if _, err := NewGoogleClient(bad, Options{}); err == nil {
		t.Error("Expected error for missing language code")
	}
	bad = DefaultGoogleParams()
	bad.SampleRate = -1
	if _, err := NewGoogleClient(bad, Options{}); err == nil {
		t.Error("Expected error for negative sample rate")
	}

	g, err := NewGoogleClient(DefaultGoogleParams(), Options{})
	if err != nil {
		t.Fatalf("Expected default params to be valid, got %v", err)
	}
	if err := g.SendAudio([]byte{0, 0}); !errors.Is(err, errNotActive) {
		t.Errorf("Expected errNotActive before Start, got %v", err)
	}
	if err := g.Close(); err != nil {
		t.Errorf("Expected nil close without a client, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		cfg     provider.Config
		wantErr bool
	}{
		{"deepgram", Options{DeepgramAPIKey: "dg"}, provider.MustNew("deepgram", map[string]any{"model": "nova-2"}), false},
		{"deepgram without key", Options{}, provider.MustNew("deepgram", nil), true},
		{"deepgram bad encoding", Options{DeepgramAPIKey: "dg"}, provider.MustNew("deepgram", map[string]any{"encoding": "flac"}), true},
		{"deepgram unknown field", Options{DeepgramAPIKey: "dg"}, provider.MustNew("deepgram", map[string]any{"modle": "nova-2"}), true},
		{"google", Options{}, provider.MustNew("google", map[string]any{"language_code": "en-GB"}), false},
		{"unknown", Options{}, provider.MustNew("whisper", nil), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := provider.NewRegistry[Transcriber]("transcriber")
			if err := Register(reg, tt.opts); err != nil {
				t.Fatalf("Register failed: %v", err)
			}
			tr, err := reg.Resolve(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if err != nil {
				if !provider.IsConfigError(err) {
					t.Errorf("Expected a config error, got %T", err)
				}
				return
			}
			tr.Close()
		})
	}
}
