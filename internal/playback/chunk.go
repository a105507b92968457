// Package playback tracks bot audio from the moment it is handed to the
// transport until the far end has heard it or it was cut off.
package playback

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrChunkTerminal is returned when a chunk that is already PLAYED or
	// INTERRUPTED is asked to change state.
	ErrChunkTerminal = errors.New("audio chunk already in a terminal state")

	// ErrChunkIndex is returned for marks that name a chunk the utterance never sent.
	ErrChunkIndex = errors.New("chunk index out of range")

	// ErrUtteranceClosed is returned when audio is added to an utterance that was
	// interrupted or whose synthesis already completed.
	ErrUtteranceClosed = errors.New("utterance is closed")
)

// ChunkState is the playback state of one audio chunk.
type ChunkState int

const (
	ChunkUnplayed ChunkState = iota
	ChunkPlayed
	ChunkInterrupted
)

func (s ChunkState) String() string {
	switch s {
	case ChunkUnplayed:
		return "unplayed"
	case ChunkPlayed:
		return "played"
	case ChunkInterrupted:
		return "interrupted"
	}
	return fmt.Sprintf("ChunkState(%d)", int(s))
}

// Terminal reports whether no further transition is allowed.
func (s ChunkState) Terminal() bool {
	return s == ChunkPlayed || s == ChunkInterrupted
}

// AudioChunk is a contiguous segment of synthesized audio for one utterance.
// It is owned by the output stage; the state only moves forward.
type AudioChunk struct {
	ID          uuid.UUID
	UtteranceID string
	Index       int
	Data        []byte

	state ChunkState
}

// NewAudioChunk creates an UNPLAYED chunk with a fresh id.
func NewAudioChunk(utteranceID string, index int, data []byte) *AudioChunk {
	return &AudioChunk{
		ID:          uuid.New(),
		UtteranceID: utteranceID,
		Index:       index,
		Data:        data,
	}
}

// State returns the current playback state.
func (c *AudioChunk) State() ChunkState {
	return c.state
}

// MarkPlayed moves an UNPLAYED chunk to PLAYED.
func (c *AudioChunk) MarkPlayed() error {
	return c.transition(ChunkPlayed)
}

// MarkInterrupted moves an UNPLAYED chunk to INTERRUPTED.
func (c *AudioChunk) MarkInterrupted() error {
	return c.transition(ChunkInterrupted)
}

func (c *AudioChunk) transition(to ChunkState) error {
	if c.state.Terminal() {
		return fmt.Errorf("%w: chunk %d of %s is %s, cannot become %s", ErrChunkTerminal, c.Index, c.UtteranceID, c.state, to)
	}
	c.state = to
	return nil
}
