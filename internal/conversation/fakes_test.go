package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/lexiqai/voice-agent/internal/action"
	"github.com/lexiqai/voice-agent/internal/agent"
	"github.com/lexiqai/voice-agent/internal/audio"
	"github.com/lexiqai/voice-agent/internal/playback"
	"github.com/lexiqai/voice-agent/internal/stt"
	"github.com/lexiqai/voice-agent/internal/tts"
)

type fakeTranscriber struct {
	results chan *stt.TranscriptionResult

	mu     sync.Mutex
	frames int
	closed bool
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{results: make(chan *stt.TranscriptionResult, 10)}
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

// fakeSynthesizer emits one chunk per entry in sizes, filled with μ-law silence.
type fakeSynthesizer struct {
	sizes []int

	mu    sync.Mutex
	texts []string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text string) (*tts.Synthesis, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	s := tts.NewSynthesis(len(f.sizes) + 1)
	go func() {
		for _, n := range f.sizes {
			if err := s.Emit(ctx, audio.TelephonyMulaw.Silence(n)); err != nil {
				s.Finish(err)
				return
			}
		}
		s.Finish(nil)
	}()
	return s, nil
}

func (f *fakeSynthesizer) synthesized() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type agentFunc func(ctx context.Context, history []agent.Message) []*agent.Response

// fakeAgent replays scripted responses and records the history it was given.
type fakeAgent struct {
	reply agentFunc

	mu        sync.Mutex
	histories [][]agent.Message
}

func (f *fakeAgent) Respond(ctx context.Context, _ string, history []agent.Message) (<-chan *agent.Response, error) {
	f.mu.Lock()
	f.histories = append(f.histories, history)
	f.mu.Unlock()

	var resps []*agent.Response
	if f.reply != nil {
		resps = f.reply(ctx, history)
	}
	out := make(chan *agent.Response, len(resps))
	for _, r := range resps {
		out <- r
	}
	close(out)
	return out, nil
}

func (f *fakeAgent) calls() [][]agent.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]agent.Message(nil), f.histories...)
}

// fakeDevice records what the conversation sends. With autoAck it plays
// everything instantly by pushing the marks a transport would.
type fakeDevice struct {
	marks   *playback.MarkQueues
	autoAck bool

	mu       sync.Mutex
	chunks   []*playback.AudioChunk
	finished []string
	cleared  []string
}

func (d *fakeDevice) Send(chunk *playback.AudioChunk) error {
	d.mu.Lock()
	d.chunks = append(d.chunks, chunk)
	d.mu.Unlock()
	if d.autoAck {
		return d.marks.Push(chunk.UtteranceID, playback.ChunkFinished(chunk.Index))
	}
	return nil
}

func (d *fakeDevice) FinishUtterance(id string) error {
	d.mu.Lock()
	d.finished = append(d.finished, id)
	d.mu.Unlock()
	if d.autoAck {
		return d.marks.Push(id, playback.UtteranceFinished())
	}
	return nil
}

func (d *fakeDevice) Clear(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleared = append(d.cleared, id)
	return nil
}

func (d *fakeDevice) snapshot() (chunks []*playback.AudioChunk, finished, cleared []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*playback.AudioChunk(nil), d.chunks...),
		append([]string(nil), d.finished...),
		append([]string(nil), d.cleared...)
}

type fakeAction struct {
	name string

	mu   sync.Mutex
	runs []json.RawMessage
}

func (a *fakeAction) Name() string { return a.name }

func (a *fakeAction) Run(_ context.Context, _ *action.Call, params json.RawMessage) (*action.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = append(a.runs, params)
	return &action.Result{Message: "ran " + a.name, EndConversation: true}, nil
}

type failingVAD struct{}

func (failingVAD) IsVoiceActive([]byte) (bool, error) {
	return false, errors.New("model not loaded")
}
