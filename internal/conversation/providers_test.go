package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/voice-agent/internal/action"
	"github.com/lexiqai/voice-agent/internal/agent"
	"github.com/lexiqai/voice-agent/internal/config"
	"github.com/lexiqai/voice-agent/internal/noise"
	"github.com/lexiqai/voice-agent/internal/provider"
	"github.com/lexiqai/voice-agent/internal/stt"
	"github.com/lexiqai/voice-agent/internal/tts"
	"github.com/lexiqai/voice-agent/internal/turn"
)

func testRegistries(t *testing.T) Registries {
	t.Helper()
	d := agent.NewDialer(agent.Options{Address: "localhost:50051"})
	t.Cleanup(func() { d.Close() })

	reg, err := NewRegistries(Deps{
		STT:    stt.Options{DeepgramAPIKey: "dg"},
		TTS:    tts.Options{ElevenLabsAPIKey: "el"},
		Agents: d,
	})
	require.NoError(t, err)
	return reg
}

func TestProviders_ResolveAll(t *testing.T) {
	doc, err := config.ParseProviders([]byte(`{
		"initial_message": "Hello.",
		"transcriber": {"type": "deepgram", "model": "nova-2"},
		"synthesizer": {"type": "elevenlabs", "voice_id": "v1"},
		"agent": {"type": "echo", "prefix": "You said"},
		"actions": [{"type": "end_conversation"}],
		"noise_canceler": {"type": "noise_gate", "threshold": 200},
		"vad": {"type": "adaptive_energy"}
	}`))
	require.NoError(t, err)

	r, err := NewProviders(doc, testRegistries(t)).ResolveAll()
	require.NoError(t, err)

	assert.Equal(t, "Hello.", r.InitialMessage)
	assert.IsType(t, &stt.DeepgramClient{}, r.Transcriber)
	assert.IsType(t, &tts.ElevenLabsClient{}, r.Synthesizer)
	assert.IsType(t, &agent.Echo{}, r.Agent)
	assert.IsType(t, &noise.NoiseGate{}, r.NoiseCanceler)
	assert.IsType(t, turn.Always{}, r.ContextTracker)
	require.Contains(t, r.Actions, "end_conversation")
	assert.IsType(t, &action.EndConversation{}, r.Actions["end_conversation"])
}

func TestProviders_ResolveAllIsFreshPerCall(t *testing.T) {
	doc, err := config.LoadProviders("")
	require.NoError(t, err)
	doc.Synthesizer = provider.MustNew("elevenlabs", map[string]any{"voice_id": "v1"})
	doc.Actions = nil

	p := NewProviders(doc, testRegistries(t))
	a, err := p.ResolveAll()
	require.NoError(t, err)
	b, err := p.ResolveAll()
	require.NoError(t, err)
	assert.NotSame(t, a.Transcriber, b.Transcriber)
}

func TestProviders_ResolveAllFailsOnBadProvider(t *testing.T) {
	cases := map[string]string{
		"unknown transcriber": `{"transcriber":{"type":"whisper"},"synthesizer":{"type":"elevenlabs","voice_id":"v"},"agent":{"type":"echo"},"vad":{"type":"energy"}}`,
		"unknown field":       `{"transcriber":{"type":"deepgram","modle":"x"},"synthesizer":{"type":"elevenlabs","voice_id":"v"},"agent":{"type":"echo"},"vad":{"type":"energy"}}`,
		"action needs twilio": `{"transcriber":{"type":"deepgram"},"synthesizer":{"type":"elevenlabs","voice_id":"v"},"agent":{"type":"echo"},"vad":{"type":"energy"},"actions":[{"type":"transfer_call"}]}`,
		"missing api key":     `{"transcriber":{"type":"deepgram"},"synthesizer":{"type":"cartesia"},"agent":{"type":"echo"},"vad":{"type":"energy"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			doc, err := config.ParseProviders([]byte(raw))
			require.NoError(t, err)

			r, err := NewProviders(doc, testRegistries(t)).ResolveAll()
			assert.Nil(t, r)
			assert.True(t, provider.IsConfigError(err), "got %v", err)
		})
	}
}
