package playback

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/lexiqai/voice-agent/internal/audio"
)

// DurationEstimator predicts how long a text takes to speak.
type DurationEstimator interface {
	EstimateDuration(text string) time.Duration
}

// OutputDevice is the transport side of playback. Send must not block on the
// far end. After Clear returns the device pushes no further marks for the
// utterance.
type OutputDevice interface {
	Send(chunk *AudioChunk) error
	FinishUtterance(utteranceID string) error
	Clear(utteranceID string) error
}

// Utterance is one spoken bot turn: its text, the chunks sent for it and how
// far playback got.
type Utterance struct {
	ID   string
	Text string

	format    audio.Format
	estimator DurationEstimator

	mu            sync.Mutex
	chunks        []*AudioChunk
	totalBytes    int
	playedBytes   int
	synthesisDone bool
	interrupted   bool
}

// NewUtterance creates an utterance whose audio is in format. estimator may be
// nil, in which case an unfinished synthesis reports no spoken text.
func NewUtterance(id, text string, format audio.Format, estimator DurationEstimator) *Utterance {
	return &Utterance{
		ID:        id,
		Text:      text,
		format:    format,
		estimator: estimator,
	}
}

// AddChunk appends the next chunk of audio.
func (u *Utterance) AddChunk(data []byte) (*AudioChunk, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.interrupted || u.synthesisDone {
		return nil, fmt.Errorf("%w: %s", ErrUtteranceClosed, u.ID)
	}
	chunk := NewAudioChunk(u.ID, len(u.chunks), data)
	u.chunks = append(u.chunks, chunk)
	u.totalBytes += len(data)
	return chunk, nil
}

// SynthesisComplete records that no more chunks will be added.
func (u *Utterance) SynthesisComplete() {
	u.mu.Lock()
	u.synthesisDone = true
	u.mu.Unlock()
}

// Apply folds one mark into the chunk states. A ChunkFinished mark confirms
// every chunk up to and including its index.
func (u *Utterance) Apply(msg MarkMessage) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	last := len(u.chunks) - 1
	if msg.Kind == MarkChunkFinished {
		if msg.ChunkIndex < 0 || msg.ChunkIndex > last {
			return fmt.Errorf("%w: %d of %s (%d sent)", ErrChunkIndex, msg.ChunkIndex, u.ID, len(u.chunks))
		}
		last = msg.ChunkIndex
	}

	for _, c := range u.chunks[:last+1] {
		if c.state == ChunkPlayed {
			continue
		}
		if err := c.MarkPlayed(); err != nil {
			return err
		}
		u.playedBytes += len(c.Data)
	}
	return nil
}

// Interrupt marks every unconfirmed chunk INTERRUPTED and closes the utterance.
// It returns the chunks it changed.
func (u *Utterance) Interrupt() []*AudioChunk {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.interrupted = true
	var cut []*AudioChunk
	for _, c := range u.chunks {
		if c.state != ChunkUnplayed {
			continue
		}
		// cannot fail: only UNPLAYED chunks reach here
		_ = c.MarkInterrupted()
		cut = append(cut, c)
	}
	return cut
}

// Chunks returns the chunks sent so far.
func (u *Utterance) Chunks() []*AudioChunk {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]*AudioChunk(nil), u.chunks...)
}

// States returns the state of each chunk in index order.
func (u *Utterance) States() []ChunkState {
	u.mu.Lock()
	defer u.mu.Unlock()

	states := make([]ChunkState, len(u.chunks))
	for i, c := range u.chunks {
		states[i] = c.state
	}
	return states
}

// Interrupted reports whether playback was cut off.
func (u *Utterance) Interrupted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.interrupted
}

// Finished reports whether synthesis completed and every chunk was played.
func (u *Utterance) Finished() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.synthesisDone && !u.interrupted && u.playedBytes == u.totalBytes
}

// PlayedDuration is how much audio the far end confirmed.
func (u *Utterance) PlayedDuration() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.format.Duration(u.playedBytes)
}

// SpokenRatio estimates the share of Text the far end heard, in [0, 1].
// With the full audio known it is played bytes over total bytes; otherwise
// played time over the estimated duration of Text.
func (u *Utterance) SpokenRatio() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.spokenRatio()
}

func (u *Utterance) spokenRatio() float64 {
	var ratio float64
	switch {
	case u.synthesisDone && u.totalBytes > 0:
		ratio = float64(u.playedBytes) / float64(u.totalBytes)
	case u.estimator != nil:
		expected := u.estimator.EstimateDuration(u.Text)
		if expected <= 0 {
			return 0
		}
		ratio = float64(u.format.Duration(u.playedBytes)) / float64(expected)
	}
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// SpokenText returns the prefix of Text the far end heard, cut back to a word
// boundary.
func (u *Utterance) SpokenText() string {
	u.mu.Lock()
	ratio := u.spokenRatio()
	u.mu.Unlock()

	return truncateWords(u.Text, ratio)
}

// truncateWords keeps the first ratio of text, dropping any partial word.
func truncateWords(text string, ratio float64) string {
	if ratio >= 1 {
		return text
	}
	runes := []rune(text)
	cut := int(ratio * float64(len(runes)))
	if cut <= 0 {
		return ""
	}
	// a cut inside a word moves back to the start of that word
	if cut < len(runes) && !unicode.IsSpace(runes[cut]) {
		for cut > 0 && !unicode.IsSpace(runes[cut-1]) {
			cut--
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
}
