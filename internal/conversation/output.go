package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lexiqai/voice-agent/internal/agent"
	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/playback"
)

// speak synthesizes text as one utterance, streams it to the output device in
// fixed-duration chunks and follows the device's marks until the utterance is
// fully played or ctx is cancelled by an interruption.
func (c *Conversation) speak(ctx context.Context, text string) (err error) {
	id := uuid.NewString()
	utt := playback.NewUtterance(id, text, c.cfg.OutputFormat, c.estimator)
	logger := c.logger.With().Str("utterance_id", id).Logger()

	marks, err := c.marks.Create(id)
	if err != nil {
		return err
	}
	defer func() {
		if c.marks.Has(id) {
			if derr := c.marks.Delete(id); derr != nil && err == nil {
				err = derr
			}
		}
	}()

	c.mu.Lock()
	c.current = utt
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
	}()

	ctx, span := observability.StartSpan(ctx, "conversation.speak", attribute.String("utterance_id", id))
	defer func() { observability.EndSpan(span, err) }()

	started := time.Now()
	synth, err := c.p.Synthesizer.Synthesize(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return c.interrupted(utt, logger)
		}
		// the turn continues without this sentence
		c.metrics.RecordStage(observability.StageTTS, started, false)
		logger.Error().Err(err).Msg("Synthesis failed, skipping sentence")
		return nil
	}

	chunkBytes := c.cfg.OutputFormat.BytesFor(c.cfg.OutputChunk)
	var pending []byte
	send := func(data []byte) error {
		chunk, err := utt.AddChunk(data)
		if err != nil {
			return err
		}
		if err := c.out.Send(chunk); err != nil {
			return fmt.Errorf("failed to send chunk %d: %w", chunk.Index, err)
		}
		if chunk.Index == 0 {
			c.metrics.RecordFirstAudio()
		}
		c.metrics.RecordAudioBytes("out", int64(len(data)))
		return nil
	}

	chunks := synth.Chunks()
	for {
		select {
		case data, ok := <-chunks:
			if ok {
				pending = append(pending, data...)
				for len(pending) >= chunkBytes {
					if err := send(pending[:chunkBytes:chunkBytes]); err != nil {
						return err
					}
					pending = pending[chunkBytes:]
				}
				continue
			}

			chunks = nil
			if serr := synth.Err(); serr != nil {
				if ctx.Err() != nil {
					return c.interrupted(utt, logger)
				}
				logger.Warn().Err(serr).Msg("Synthesis ended early, playing what arrived")
			}
			if len(pending) > 0 {
				if err := send(pending); err != nil {
					return err
				}
				pending = nil
			}
			utt.SynthesisComplete()
			c.metrics.RecordStage(observability.StageTTS, started, synth.Err() == nil)
			if err := c.out.FinishUtterance(id); err != nil {
				return fmt.Errorf("failed to finish utterance: %w", err)
			}

		case msg := <-marks:
			if err := utt.Apply(msg); err != nil {
				return err
			}
			if msg.Kind == playback.MarkUtteranceFinished {
				c.played(utt, logger)
				return nil
			}

		case <-ctx.Done():
			return c.interrupted(utt, logger)
		}
	}
}

// played records a fully played utterance.
func (c *Conversation) played(utt *playback.Utterance, logger zerolog.Logger) {
	for range utt.Chunks() {
		c.metrics.RecordChunkState(playback.ChunkPlayed.String())
	}
	c.metrics.RecordSpokenRatio(1)
	c.appendMessage(agent.RoleBot, utt.Text, false)
	logger.Debug().Int("chunks", len(utt.Chunks())).Msg("Utterance played")
	c.endUtterance(utt)
}

// interrupted cuts the utterance off: remaining chunks become INTERRUPTED, the
// device drops buffered audio and the mark queue is deleted.
func (c *Conversation) interrupted(utt *playback.Utterance, logger zerolog.Logger) error {
	cut := utt.Interrupt()
	// a closing transport cannot be cleared; the call is over anyway
	if err := c.out.Clear(utt.ID); err != nil && c.ctx.Err() == nil {
		return fmt.Errorf("failed to clear output: %w", err)
	}
	if err := c.marks.Delete(utt.ID); err != nil {
		return err
	}

	for _, s := range utt.States() {
		c.metrics.RecordChunkState(s.String())
	}
	ratio := utt.SpokenRatio()
	c.metrics.RecordSpokenRatio(ratio)

	spoken := utt.SpokenText()
	if spoken != "" {
		c.appendMessage(agent.RoleBot, spoken, true)
	}
	logger.Info().
		Int("interrupted_chunks", len(cut)).
		Float64("spoken_ratio", ratio).
		Str("spoken", spoken).
		Msg("Utterance interrupted")
	c.endUtterance(utt)
	return nil
}

func (c *Conversation) endUtterance(utt *playback.Utterance) {
	if c.cfg.OnUtteranceEnd != nil {
		c.cfg.OnUtteranceEnd(utt)
	}
}
