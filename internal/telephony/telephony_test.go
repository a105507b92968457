package telephony

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/voice-agent/internal/action"
	"github.com/lexiqai/voice-agent/internal/agent"
	"github.com/lexiqai/voice-agent/internal/audio"
	"github.com/lexiqai/voice-agent/internal/call"
	"github.com/lexiqai/voice-agent/internal/config"
	"github.com/lexiqai/voice-agent/internal/conversation"
	"github.com/lexiqai/voice-agent/internal/noise"
	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/playback"
	"github.com/lexiqai/voice-agent/internal/provider"
	"github.com/lexiqai/voice-agent/internal/stt"
	"github.com/lexiqai/voice-agent/internal/tts"
	"github.com/lexiqai/voice-agent/internal/turn"
	"github.com/lexiqai/voice-agent/internal/vad"
)

type fakeTranscriber struct {
	results chan *stt.TranscriptionResult

	mu     sync.Mutex
	frames int
	closed bool
}

func (f *fakeTranscriber) Start(context.Context) error { return nil }

func (f *fakeTranscriber) SendAudio([]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
	return nil
}

func (f *fakeTranscriber) Transcriptions() <-chan *stt.TranscriptionResult { return f.results }

func (f *fakeTranscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.results)
	}
	return nil
}

func (f *fakeTranscriber) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

// silenceSynthesizer produces bytes of μ-law silence for any text.
type silenceSynthesizer struct{ bytes int }

func (s silenceSynthesizer) Synthesize(ctx context.Context, _ string) (*tts.Synthesis, error) {
	out := tts.NewSynthesis(1)
	go func() {
		out.Finish(out.Emit(ctx, audio.TelephonyMulaw.Silence(s.bytes)))
	}()
	return out, nil
}

type testServer struct {
	*httptest.Server
	store       *call.MemoryStore
	transcriber *fakeTranscriber
}

func testConfig() *config.Config {
	return &config.Config{
		AllowInterruptions:      true,
		MinActivityDurationMs:   600,
		SpeechRatio:             0.8,
		FinishSentenceThreshold: 0.8,
		OutputChunkMs:           50,
		MarkQueueCapacity:       16,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()

	ts := &testServer{
		store:       call.NewMemoryStore(),
		transcriber: &fakeTranscriber{results: make(chan *stt.TranscriptionResult, 1)},
	}

	reg := conversation.Registries{
		Transcribers:    provider.NewRegistry[stt.Transcriber]("transcriber"),
		Synthesizers:    provider.NewRegistry[tts.Synthesizer]("synthesizer"),
		Agents:          provider.NewRegistry[agent.Agent]("agent"),
		Actions:         provider.NewRegistry[action.Action]("action"),
		NoiseCancelers:  provider.NewRegistry[noise.Canceler]("noise_canceler"),
		ContextTrackers: provider.NewRegistry[turn.ContextTracker]("context_tracker"),
		VADs:            provider.NewRegistry[vad.Backend]("vad"),
	}
	reg.Transcribers.MustRegister("fake", func(provider.Config) (stt.Transcriber, error) { return ts.transcriber, nil })
	reg.Synthesizers.MustRegister("silence", func(provider.Config) (tts.Synthesizer, error) {
		return silenceSynthesizer{bytes: 800}, nil
	})
	reg.Agents.MustRegister("echo", func(provider.Config) (agent.Agent, error) { return agent.NewEcho(agent.EchoParams{}), nil })
	require.NoError(t, noise.Register(reg.NoiseCancelers))
	require.NoError(t, turn.RegisterTrackers(reg.ContextTrackers))
	require.NoError(t, vad.Register(reg.VADs))

	doc, err := config.ParseProviders([]byte(`{
		"initial_message": "Hello there.",
		"transcriber": {"type": "fake"},
		"synthesizer": {"type": "silence"},
		"agent": {"type": "echo"},
		"vad": {"type": "energy"}
	}`))
	require.NoError(t, err)

	h := NewHandler(cfg, conversation.NewProviders(doc, reg), ts.store, zerolog.Nop())
	mux := http.NewServeMux()
	h.Register(mux)
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+streamPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (ts *testServer) status(t *testing.T, callID string) call.Status {
	t.Helper()
	rec, err := ts.store.Get(context.Background(), callID)
	if err != nil {
		return call.Pending
	}
	return rec.Status
}

func send(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func startCall(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, map[string]any{"event": "connected", "protocol": "Call", "version": "1.0.0"})
	send(t, conn, map[string]any{
		"event":     "start",
		"streamSid": "MZ1",
		"start": map[string]any{
			"accountSid":       "AC1",
			"callSid":          "CA1",
			"streamSid":        "MZ1",
			"tracks":           []string{"inbound"},
			"customParameters": map[string]string{"from": "+15550001", "to": "+15550002"},
			"mediaFormat":      map[string]any{"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
		},
	})
}

func readEvent(t *testing.T, conn *websocket.Conn) outbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg outbound
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHandleStream_PlaysGreetingAndTracksCall(t *testing.T) {
	ts := newTestServer(t, testConfig())
	conn := ts.dial(t)
	startCall(t, conn)

	// 800 bytes at 50ms (400 bytes) per chunk: two chunks then the end mark.
	var (
		media int
		marks []string
	)
	for len(marks) < 3 {
		msg := readEvent(t, conn)
		assert.Equal(t, "MZ1", msg.StreamSid)
		switch msg.Event {
		case eventMedia:
			data, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			require.NoError(t, err)
			assert.Len(t, data, 400)
			media++
		case eventMark:
			marks = append(marks, msg.Mark.Name)
		default:
			t.Fatalf("unexpected event %q", msg.Event)
		}
	}
	assert.Equal(t, 2, media)
	utteranceID, _, ok := splitMark(marks[0])
	require.True(t, ok)
	assert.Equal(t, []string{utteranceID + ":0", utteranceID + ":1", utteranceID + ":end"}, marks)

	for _, name := range marks {
		send(t, conn, map[string]any{"event": "mark", "streamSid": "MZ1", "mark": map[string]string{"name": name}})
	}

	frame := base64.StdEncoding.EncodeToString(audio.TelephonyMulaw.Silence(160))
	send(t, conn, map[string]any{"event": "media", "streamSid": "MZ1", "media": map[string]string{"track": "inbound", "payload": frame}})

	require.Eventually(t, func() bool { return ts.transcriber.received() > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, call.Autocalling, ts.status(t, "CA1"))

	send(t, conn, map[string]any{"event": "stop", "streamSid": "MZ1", "stop": map[string]string{"accountSid": "AC1", "callSid": "CA1"}})
	require.Eventually(t, func() bool { return ts.status(t, "CA1") == call.EndedBeforeTransfer }, 2*time.Second, 10*time.Millisecond)

	rec, err := ts.store.Get(context.Background(), "CA1")
	require.NoError(t, err)
	assert.Equal(t, "+15550001", rec.From)
	assert.Equal(t, "+15550002", rec.To)
}

func TestHandleStream_RejectsMediaBeforeStart(t *testing.T) {
	ts := newTestServer(t, testConfig())
	conn := ts.dial(t)
	send(t, conn, map[string]any{"event": "media", "media": map[string]string{"payload": ""}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	_, err = ts.store.Get(context.Background(), "CA1")
	assert.ErrorIs(t, err, call.ErrNotFound)
}

func newTestStream(t *testing.T) (*Stream, *playback.MarkQueues) {
	t.Helper()
	marks := playback.NewMarkQueues(4)
	return newStream(nil, "MZ1", marks, observability.NewCallMetrics("test"), zerolog.Nop()), marks
}

func TestStream_HandleMarkForwardsActiveUtterances(t *testing.T) {
	s, marks := newTestStream(t)
	ch, err := marks.Create("u1")
	require.NoError(t, err)

	// not yet active: dropped
	s.HandleMark("u1:0")
	assert.Empty(t, ch)

	s.active["u1"] = true
	s.HandleMark("u1:0")
	s.HandleMark("u1:end")
	assert.Equal(t, playback.ChunkFinished(0), <-ch)
	assert.Equal(t, playback.UtteranceFinished(), <-ch)

	// the end mark deactivates the utterance
	s.HandleMark("u1:1")
	assert.Empty(t, ch)
}

func TestStream_HandleMarkIgnoresMalformedAndDeletedQueues(t *testing.T) {
	s, marks := newTestStream(t)
	s.active["u1"] = true

	for _, name := range []string{"", "u1", ":0", "u1:", "u1:x"} {
		s.HandleMark(name)
	}
	assert.Equal(t, 0, marks.Len())

	// queue deleted by the output stage before the echo arrived
	s.HandleMark("u1:0")
	assert.False(t, marks.Has("u1"))
}

func TestStream_HandleMarkReportsMissingQueue(t *testing.T) {
	var logs bytes.Buffer
	marks := playback.NewMarkQueues(4)
	s := newStream(nil, "MZ1", marks, observability.NewCallMetrics("test"), zerolog.New(&logs))
	s.active["u7"] = true

	s.HandleMark("u7:0")
	s.HandleMark("u7:1")

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	require.Len(t, lines, 1, "reported once per utterance")
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "u7", entry["utterance_id"])
	assert.NotContains(t, s.active, "u7")
}

func TestSplitMark(t *testing.T) {
	id, suffix, ok := splitMark("a:b:3")
	require.True(t, ok)
	assert.Equal(t, "a:b", id)
	assert.Equal(t, "3", suffix)
}

func postVoice(t *testing.T, ts *testServer, form url.Values, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/twilio/voice", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleVoice_ConnectsStream(t *testing.T) {
	ts := newTestServer(t, testConfig())

	resp := postVoice(t, ts, url.Values{"CallSid": {"CA1"}, "From": {"+15550001"}, "To": {"+15550002"}}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	host := strings.TrimPrefix(ts.URL, "http://")
	assert.Contains(t, string(body), "<Connect>")
	assert.Contains(t, string(body), `url="ws://`+host+`/streams/twilio"`)
	assert.Contains(t, string(body), `value="+15550001"`)
}

// sign computes X-Twilio-Signature: HMAC-SHA1 over the URL followed by the
// sorted form keys and values.
func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestHandleVoice_ValidatesSignature(t *testing.T) {
	cfg := testConfig()
	cfg.TwilioAuthToken = "secret"
	cfg.PublicURL = "https://voice.example.com"
	ts := newTestServer(t, cfg)
	form := url.Values{"CallSid": {"CA1"}, "From": {"+15550001"}}

	resp := postVoice(t, ts, form, "bogus")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = postVoice(t, ts, form, sign("secret", "https://voice.example.com/twilio/voice", form))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `url="wss://voice.example.com/streams/twilio"`)
}

func TestHandleCallStatus(t *testing.T) {
	ts := newTestServer(t, testConfig())
	require.NoError(t, ts.store.Save(context.Background(), call.Record{CallID: "CA9", Status: call.Transferring}))

	resp, err := http.Get(ts.URL + "/calls/CA9")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "TRANSFERRING", got["status"])

	missing, err := http.Get(ts.URL + "/calls/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
