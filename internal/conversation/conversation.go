// Package conversation runs one live call: it feeds caller audio through noise
// cancellation, interruption detection and transcription, asks the agent for a
// reply, and speaks it back while tracking how much the caller heard.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-agent/internal/action"
	"github.com/lexiqai/voice-agent/internal/agent"
	"github.com/lexiqai/voice-agent/internal/audio"
	"github.com/lexiqai/voice-agent/internal/call"
	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/playback"
	"github.com/lexiqai/voice-agent/internal/turn"
	"github.com/lexiqai/voice-agent/internal/vad"
)

// Config tunes one conversation.
type Config struct {
	ID string

	AllowInterruptions      bool
	MinActivityDuration     time.Duration
	SpeechRatio             float64
	FinishSentenceThreshold float64

	// OutputChunk is the playback duration of each chunk sent to the device.
	OutputChunk time.Duration

	// InputFormat is the format of frames passed to ReceiveAudio,
	// OutputFormat the format synthesizers produce.
	InputFormat  audio.Format
	OutputFormat audio.Format

	// OnUtteranceEnd, when set, observes every utterance once playback
	// finished or was interrupted.
	OnUtteranceEnd func(*playback.Utterance)
}

const (
	frameBuffer  = 100
	speechBuffer = 32
)

// epoch groups the bot turns one interruption cancels together. Every turn
// runs under the epoch current when it started.
type epoch struct {
	ctx    context.Context
	cancel context.CancelFunc

	queued     atomic.Int32 // items not yet taken by the output stage
	generating atomic.Bool
}

func newEpoch(parent context.Context) *epoch {
	e := &epoch{}
	e.ctx, e.cancel = context.WithCancel(parent)
	return e
}

// pending reports whether cancelling e would drop any bot output besides the
// utterance currently playing.
func (e *epoch) pending() bool {
	return e.queued.Load() > 0 || e.generating.Load()
}

// item is one unit of bot output: a sentence to speak or an action to run.
// Items whose epoch is cancelled are dropped.
type item struct {
	ep     *epoch
	text   string
	action *agent.ActionRequest
}

// Conversation orchestrates the input, transcription, generation and output
// stages of a call.
type Conversation struct {
	cfg       Config
	p         *Resolved
	out       playback.OutputDevice
	marks     *playback.MarkQueues
	detector  *vad.InterruptDetector
	estimator *turn.Estimator
	call      *action.Call
	metrics   *observability.Metrics
	logger    zerolog.Logger
	sttLogger zerolog.Logger

	frames chan []byte
	turns  chan struct{}
	speech chan item

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	history     []agent.Message
	epoch      *epoch
	deferred   *epoch // superseded epoch cancelled once the playing sentence ends
	current    *playback.Utterance
	generating bool

	doneOnce sync.Once
	done     chan struct{}
	err      error
}

// New wires a conversation. marks is shared with the transport, which pushes
// acknowledgments into it. tracker may be nil.
func New(cfg Config, p *Resolved, out playback.OutputDevice, marks *playback.MarkQueues, tracker *call.Tracker, metrics *observability.Metrics, logger zerolog.Logger) (*Conversation, error) {
	if cfg.InputFormat.SampleRate == 0 {
		cfg.InputFormat = audio.TelephonyLinear16
	}
	if cfg.OutputFormat.SampleRate == 0 {
		cfg.OutputFormat = audio.TelephonyMulaw
	}
	if cfg.OutputChunk <= 0 {
		return nil, fmt.Errorf("output chunk duration must be positive, got %v", cfg.OutputChunk)
	}
	if cfg.FinishSentenceThreshold <= 0 {
		return nil, fmt.Errorf("finish sentence threshold must be positive, got %v", cfg.FinishSentenceThreshold)
	}

	detector, err := vad.NewInterruptDetector(p.VAD, vad.DetectorConfig{
		MinActivityDuration: cfg.MinActivityDuration,
		SpeechRatio:         cfg.SpeechRatio,
		Format:              cfg.InputFormat,
	})
	if err != nil {
		return nil, err
	}
	estimator, err := turn.DefaultEstimator()
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = observability.NewCallMetrics(cfg.ID)
	}

	return &Conversation{
		cfg:       cfg,
		p:         p,
		out:       out,
		marks:     marks,
		detector:  detector,
		estimator: estimator,
		call:      &action.Call{SID: cfg.ID, Tracker: tracker, Logger: logger},
		metrics:   metrics,
		logger:    logger,
		sttLogger: logger.Sample(&zerolog.BurstSampler{Burst: 1, Period: 5 * time.Second}),
		frames:    make(chan []byte, frameBuffer),
		turns:     make(chan struct{}, 1),
		speech:    make(chan item, speechBuffer),
		done:      make(chan struct{}),
	}, nil
}

// Start opens the transcriber, speaks the initial message and launches the
// stages. The conversation runs until ctx is done, an action ends it, or a
// stage fails.
func (c *Conversation) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.epoch = newEpoch(c.ctx)

	if err := c.p.Transcriber.Start(c.ctx); err != nil {
		c.abortStart()
		return fmt.Errorf("failed to start transcriber: %w", err)
	}
	if c.call.Tracker != nil {
		if err := c.call.Tracker.Transition(c.ctx, call.Autocalling); err != nil {
			c.abortStart()
			return err
		}
	}

	c.wg.Add(4)
	go c.run("input", c.inputLoop)
	go c.run("transcription", c.transcriptionLoop)
	go c.run("generation", c.generationLoop)
	go c.run("output", c.outputLoop)

	if msg := strings.TrimSpace(c.p.InitialMessage); msg != "" {
		ep := c.currentEpoch()
		for _, s := range agent.SplitSentences(msg) {
			c.enqueue(item{ep: ep, text: s})
		}
	}

	go func() {
		<-c.ctx.Done()
		c.finish(nil)
	}()

	c.logger.Info().Msg("Conversation started")
	return nil
}

// abortStart releases what a failed Start opened. A transcriber may hold a
// connection even when its own Start failed.
func (c *Conversation) abortStart() {
	c.cancel()
	if err := c.p.Transcriber.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Error closing transcriber after failed start")
	}
}

func (c *Conversation) run(stage string, fn func() error) {
	defer c.wg.Done()
	if err := fn(); err != nil {
		c.logger.Error().Err(err).Str("stage", stage).Msg("Conversation stage failed")
		c.metrics.RecordError("stage_failed", stage)
		c.finish(err)
	}
}

// ReceiveAudio queues one caller frame. It never blocks the transport; frames
// arriving faster than the input stage drains them are dropped.
func (c *Conversation) ReceiveAudio(frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.frames <- frame:
	default:
		c.sttLogger.Warn().Msg("Input frame buffer full, dropping frame")
	}
}

// Done is closed when the conversation has ended.
func (c *Conversation) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the conversation, if any.
func (c *Conversation) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close stops every stage, closes the transcriber and ends the call status.
func (c *Conversation) Close() error {
	c.finish(nil)
	c.wg.Wait()

	err := c.p.Transcriber.Close()
	if c.call.Tracker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = errors.Join(err, c.call.Tracker.End(ctx))
	}
	c.logger.Info().Int("messages", len(c.Transcript())).Msg("Conversation closed")
	return err
}

func (c *Conversation) finish(err error) {
	c.doneOnce.Do(func() {
		c.err = err
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
	})
}

// Transcript returns a copy of the conversation so far.
func (c *Conversation) Transcript() []agent.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]agent.Message(nil), c.history...)
}

func (c *Conversation) appendMessage(role agent.Role, text string, interrupted bool) {
	c.mu.Lock()
	c.history = append(c.history, agent.Message{Role: role, Text: text, Interrupted: interrupted, At: time.Now()})
	c.mu.Unlock()
}

func (c *Conversation) currentEpoch() *epoch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// busy reports whether the bot is generating, speaking or has speech queued.
func (c *Conversation) busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generating || c.current != nil || len(c.speech) > 0
}

func (c *Conversation) inputLoop() error {
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case frame := <-c.frames:
			clean := c.p.NoiseCanceler.CancelNoise(frame)

			interrupt, err := c.detector.ShouldInterrupt(clean)
			if err != nil {
				return fmt.Errorf("voice activity detection failed: %w", err)
			}
			if interrupt {
				c.handleInterrupt()
			}

			if err := c.p.Transcriber.SendAudio(clean); err != nil {
				c.metrics.RecordError("send_audio", "stt")
				c.sttLogger.Warn().Err(err).Msg("Failed to send audio to transcriber")
			}
			c.metrics.RecordAudioBytes("in", int64(len(frame)))
		}
	}
}

// handleInterrupt applies the interruption policy to a confirmed barge-in.
func (c *Conversation) handleInterrupt() {
	if !c.busy() {
		return
	}
	if !c.cfg.AllowInterruptions {
		c.metrics.RecordInterruption(observability.InterruptionDisabled)
		return
	}

	c.mu.Lock()
	utt := c.current
	c.mu.Unlock()

	if utt != nil && c.estimator.ShouldFinishSentence(utt.Text, utt.PlayedDuration(), c.cfg.FinishSentenceThreshold) {
		c.deferInterrupt(utt.ID)
		return
	}
	c.interrupt()
}

// deferInterrupt lets the playing sentence finish. Its epoch is parked in
// deferred and a new epoch starts right away, so a reply to the caller's new
// turn is not cancelled along with the rest of the old turn.
func (c *Conversation) deferInterrupt(utteranceID string) {
	c.mu.Lock()
	if c.deferred != nil {
		c.mu.Unlock()
		return
	}
	c.deferred = c.epoch
	c.epoch = newEpoch(c.ctx)
	c.mu.Unlock()

	c.metrics.RecordInterruption(observability.InterruptionDeferred)
	c.logger.Debug().Str("utterance_id", utteranceID).Msg("Interruption deferred until sentence ends")
}

// interrupt cancels every in-flight bot turn.
func (c *Conversation) interrupt() {
	c.mu.Lock()
	old, deferred := c.epoch, c.deferred
	c.epoch, c.deferred = newEpoch(c.ctx), nil
	c.mu.Unlock()

	if deferred != nil {
		deferred.cancel()
	}
	old.cancel()
	c.metrics.RecordInterruption(observability.InterruptionInterrupted)
	c.logger.Info().Msg("Caller interrupted the bot")
}

// finishDeferred cancels the epoch parked by a deferred interruption once its
// sentence has ended. Only the old turn is cut; turns started since run on.
func (c *Conversation) finishDeferred() {
	c.mu.Lock()
	ep := c.deferred
	c.deferred = nil
	c.mu.Unlock()
	if ep == nil {
		return
	}

	cut := ep.pending()
	ep.cancel()
	if cut {
		c.metrics.RecordInterruption(observability.InterruptionInterrupted)
		c.logger.Info().Msg("Caller interrupted the bot")
	}
}

func (c *Conversation) transcriptionLoop() error {
	var pending []string
	var heard time.Time // first partial of the current turn
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case res, ok := <-c.p.Transcriber.Transcriptions():
			if !ok {
				return nil
			}
			if !res.IsFinal {
				if heard.IsZero() {
					heard = time.Now()
				}
				continue
			}
			c.metrics.RecordStage(observability.StageSTT, heard, true)
			heard = time.Time{}

			text := strings.TrimSpace(res.Text)
			if text == "" {
				continue
			}
			pending = append(pending, text)
			joined := strings.Join(pending, " ")

			complete, err := c.p.ContextTracker.IsUtteranceComplete(c.ctx, joined)
			if err != nil {
				c.logger.Warn().Err(err).Msg("Context tracker failed, treating turn as complete")
				complete = true
			}
			if !complete {
				continue
			}

			pending = pending[:0]
			c.appendMessage(agent.RoleUser, joined, false)
			c.logger.Info().Str("text", joined).Msg("User turn complete")

			// coalesce: one pending signal covers every turn recorded so far
			select {
			case c.turns <- struct{}{}:
			default:
			}
		}
	}
}

func (c *Conversation) generationLoop() error {
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case <-c.turns:
			c.respond(c.currentEpoch())
		}
	}
}

func (c *Conversation) respond(ep *epoch) {
	ctx := ep.ctx
	c.mu.Lock()
	c.generating = true
	c.mu.Unlock()
	ep.generating.Store(true)
	defer func() {
		ep.generating.Store(false)
		c.mu.Lock()
		c.generating = false
		c.mu.Unlock()
	}()

	c.metrics.RecordTurnEnd()
	started := time.Now()
	ch, err := c.p.Agent.Respond(ctx, c.cfg.ID, c.Transcript())
	if err != nil {
		c.metrics.RecordStage(observability.StageAgent, started, false)
		c.metrics.RecordError("respond", "agent")
		c.logger.Error().Err(err).Msg("Agent request failed")
		return
	}

	ok := true
	var split agent.SentenceSplitter
	for resp := range ch {
		switch {
		case resp.Error != nil:
			ok = false
			c.logger.Error().Err(resp.Error).Msg("Agent reported an error")
		case resp.Action != nil:
			if tail := split.Flush(); tail != "" {
				c.enqueue(item{ep: ep, text: tail})
			}
			c.enqueue(item{ep: ep, action: resp.Action})
		case resp.Text != "":
			for _, s := range split.Push(resp.Text) {
				c.enqueue(item{ep: ep, text: s})
			}
		}
	}
	if tail := split.Flush(); tail != "" {
		c.enqueue(item{ep: ep, text: tail})
	}
	c.metrics.RecordStage(observability.StageAgent, started, ok && ctx.Err() == nil)
}

func (c *Conversation) enqueue(it item) {
	it.ep.queued.Add(1)
	select {
	case c.speech <- it:
	case <-it.ep.ctx.Done():
		it.ep.queued.Add(-1)
	}
}

func (c *Conversation) outputLoop() error {
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case it := <-c.speech:
			it.ep.queued.Add(-1)
			if it.ep.ctx.Err() != nil {
				continue
			}
			if it.action != nil {
				c.runAction(it.action)
				continue
			}
			err := c.speak(it.ep.ctx, it.text)
			c.finishDeferred()
			if err != nil {
				return err
			}
		}
	}
}

func (c *Conversation) runAction(req *agent.ActionRequest) {
	a, ok := c.p.Actions[req.Name]
	if !ok {
		c.logger.Warn().Str("action", req.Name).Msg("Agent requested an unconfigured action")
		c.appendMessage(agent.RoleAction, "unavailable action "+req.Name, false)
		return
	}

	res, err := a.Run(c.ctx, c.call, req.Params)
	if err != nil {
		c.metrics.RecordError("action", req.Name)
		c.logger.Error().Err(err).Str("action", req.Name).Msg("Action failed")
		c.appendMessage(agent.RoleAction, req.Name+" failed: "+err.Error(), false)
		return
	}
	c.appendMessage(agent.RoleAction, res.Message, false)
	if res.EndConversation {
		c.logger.Info().Str("action", req.Name).Msg("Action ended the conversation")
		c.finish(nil)
	}
}
