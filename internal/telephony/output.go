package telephony

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/playback"
)

const (
	writeTimeout = 5 * time.Second
	endMark      = "end"
)

// Stream is the playback side of a Media Streams connection. Every chunk is
// followed by a mark named "<utterance>:<index>" and every finished utterance
// by "<utterance>:end"; Twilio echoes each mark once the audio before it has
// played, and HandleMark turns the echoes into acknowledgments.
type Stream struct {
	conn      *websocket.Conn
	streamSID string
	marks     *playback.MarkQueues
	metrics   *observability.Metrics
	logger    zerolog.Logger

	writeMu sync.Mutex

	// active holds the utterances whose marks are forwarded. Clear removes an
	// utterance under mu, so no push can follow it.
	mu     sync.Mutex
	active map[string]bool
}

func newStream(conn *websocket.Conn, streamSID string, marks *playback.MarkQueues, metrics *observability.Metrics, logger zerolog.Logger) *Stream {
	return &Stream{
		conn:      conn,
		streamSID: streamSID,
		marks:     marks,
		metrics:   metrics,
		logger:    logger,
		active:    make(map[string]bool),
	}
}

// Send writes the chunk audio and its mark.
func (s *Stream) Send(chunk *playback.AudioChunk) error {
	s.mu.Lock()
	s.active[chunk.UtteranceID] = true
	s.mu.Unlock()

	if err := s.write(outbound{
		Event:     eventMedia,
		StreamSid: s.streamSID,
		Media:     &TwilioMedia{Payload: base64.StdEncoding.EncodeToString(chunk.Data)},
	}); err != nil {
		s.metrics.RecordError("twilio_send_error", "telephony")
		return err
	}
	return s.writeMark(markName(chunk.UtteranceID, strconv.Itoa(chunk.Index)))
}

// FinishUtterance marks the end of the utterance's audio.
func (s *Stream) FinishUtterance(utteranceID string) error {
	s.mu.Lock()
	s.active[utteranceID] = true
	s.mu.Unlock()
	return s.writeMark(markName(utteranceID, endMark))
}

// Clear flushes audio Twilio has buffered but not yet played. Twilio answers
// with the marks of the flushed audio, which are dropped.
func (s *Stream) Clear(utteranceID string) error {
	s.mu.Lock()
	delete(s.active, utteranceID)
	s.mu.Unlock()
	return s.write(outbound{Event: eventClear, StreamSid: s.streamSID})
}

// HandleMark forwards an echoed mark to its utterance's queue.
func (s *Stream) HandleMark(name string) {
	utteranceID, suffix, ok := splitMark(name)
	if !ok {
		s.logger.Warn().Str("mark", name).Msg("Ignoring malformed mark")
		return
	}

	var msg playback.MarkMessage
	if suffix == endMark {
		msg = playback.UtteranceFinished()
	} else {
		index, err := strconv.Atoi(suffix)
		if err != nil {
			s.logger.Warn().Str("mark", name).Msg("Ignoring malformed mark")
			return
		}
		msg = playback.ChunkFinished(index)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active[utteranceID] {
		return
	}
	if msg.Kind == playback.MarkUtteranceFinished {
		delete(s.active, utteranceID)
	}

	err := s.marks.Push(utteranceID, msg)
	switch {
	case err == nil:
	case errors.Is(err, playback.ErrUnknownUtterance):
		// The queue is gone while playback is still active, so the output
		// stage dropped the utterance without clearing it. Report it once.
		delete(s.active, utteranceID)
		s.metrics.RecordError("unknown_utterance", "telephony")
		s.logger.Error().Err(err).Str("utterance_id", utteranceID).Stringer("mark", msg).Msg("Mark for an utterance with no queue")
	default:
		s.logger.Warn().Err(err).Str("utterance_id", utteranceID).Stringer("mark", msg).Msg("Failed to push mark")
	}
}

func (s *Stream) writeMark(name string) error {
	return s.write(outbound{Event: eventMark, StreamSid: s.streamSID, Mark: &TwilioMark{Name: name}})
}

func (s *Stream) write(msg outbound) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write %s event: %w", msg.Event, err)
	}
	return nil
}

func markName(utteranceID, suffix string) string {
	return utteranceID + ":" + suffix
}

func splitMark(name string) (utteranceID, suffix string, ok bool) {
	i := strings.LastIndexByte(name, ':')
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}
