// Package telephony connects Twilio phone calls to conversations over Media
// Streams websockets.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/lexiqai/voice-agent/internal/audio"
	"github.com/lexiqai/voice-agent/internal/call"
	"github.com/lexiqai/voice-agent/internal/config"
	"github.com/lexiqai/voice-agent/internal/conversation"
	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/playback"
)

// startTimeout bounds the wait for the "start" event after the upgrade.
const startTimeout = 10 * time.Second

// Handler serves the Twilio webhooks and media streams.
type Handler struct {
	cfg       *config.Config
	providers *conversation.Providers
	store     call.Store
	validator *twilioclient.RequestValidator
	upgrader  websocket.Upgrader
	logger    zerolog.Logger
}

// NewHandler creates a handler. Webhook signatures are checked when a Twilio
// auth token is configured.
func NewHandler(cfg *config.Config, providers *conversation.Providers, store call.Store, logger zerolog.Logger) *Handler {
	h := &Handler{
		cfg:       cfg,
		providers: providers,
		store:     store,
		upgrader: websocket.Upgrader{
			// Twilio does not send an Origin header; the stream URL is only
			// handed out in signed webhook answers.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger.With().Str("component", "telephony").Logger(),
	}
	if cfg.TwilioAuthToken != "" {
		v := twilioclient.NewRequestValidator(cfg.TwilioAuthToken)
		h.validator = &v
	}
	return h
}

// Register installs the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /twilio/voice", h.HandleVoice)
	mux.HandleFunc("GET "+streamPath, h.HandleStream)
	mux.HandleFunc("GET /calls/{id}", h.HandleCallStatus)
}

// HandleStream runs one call: it waits for the stream to start, builds a
// conversation and pumps caller audio and marks into it until either side
// hangs up.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	start, err := awaitStart(conn)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Stream closed before start")
		return
	}

	correlationID := observability.NewCorrelationID()
	logger := observability.ForCall(correlationID, start.CallSid, start.StreamSid)
	metrics := observability.NewCallMetrics(start.CallSid)
	metrics.RecordCallStart()
	defer metrics.RecordCallEnd()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &session{conn: conn, logger: logger, metrics: metrics}
	if err := s.setup(ctx, h, start); err != nil {
		logger.Error().Err(err).Msg("Failed to set up call")
		metrics.RecordError("setup_failed", "telephony")
		return
	}
	s.run()
}

// session is the per-call state of a stream.
type session struct {
	conn    *websocket.Conn
	stream  *Stream
	conv    *conversation.Conversation
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func (s *session) setup(ctx context.Context, h *Handler, start *TwilioStart) error {
	if start.MediaFormat.Encoding != "" && start.MediaFormat.Encoding != "audio/x-mulaw" {
		return fmt.Errorf("unsupported media encoding %q", start.MediaFormat.Encoding)
	}

	params := start.CustomParameters
	tracker, err := call.NewTracker(ctx, h.store, start.CallSid, params["from"], params["to"], s.logger,
		func(status call.Status) { s.metrics.RecordCallStatus(status.String()) })
	if err != nil {
		return err
	}

	resolved, err := h.providers.ResolveAll()
	if err != nil {
		return err
	}

	marks := playback.NewMarkQueues(h.cfg.MarkQueueCapacity)
	s.stream = newStream(s.conn, start.StreamSid, marks, s.metrics, s.logger)

	s.conv, err = conversation.New(conversationConfig(h.cfg, start.CallSid), resolved, s.stream, marks, tracker, s.metrics, s.logger)
	if err != nil {
		if cerr := resolved.Transcriber.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("Error closing transcriber")
		}
		return err
	}
	// Start closes the transcriber itself when it fails.
	return s.conv.Start(ctx)
}

func (s *session) run() {
	// An ended conversation closes the socket so the read below returns and
	// Twilio moves past the <Connect> verb.
	go func() {
		<-s.conv.Done()
		_ = s.conn.Close()
	}()

	if err := s.readLoop(); err != nil {
		s.logger.Warn().Err(err).Msg("Stream read failed")
	}

	if err := s.conv.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Error closing conversation")
	}
	if err := s.conv.Err(); err != nil {
		s.logger.Error().Err(err).Msg("Conversation ended with error")
	}
	s.logger.Info().Msg("Call session ended")
}

func (s *session) readLoop() error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.conv.Done():
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		msg, err := parseMessage(data)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to parse Twilio message")
			continue
		}

		switch msg.Event {
		case eventMedia:
			if msg.Media == nil {
				continue
			}
			s.handleMedia(msg.Media)
		case eventMark:
			if msg.Mark != nil {
				s.stream.HandleMark(msg.Mark.Name)
			}
		case eventStop:
			s.logger.Info().Msg("Call stopped")
			return nil
		default:
			s.logger.Debug().Str("event", msg.Event).Msg("Ignoring Twilio event")
		}
	}
}

func (s *session) handleMedia(media *TwilioMedia) {
	if media.Track != "" && media.Track != "inbound" {
		return
	}
	mulaw, err := media.payload()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to decode media payload")
		return
	}
	pcm, err := audio.ConvertPCMUToPCM(mulaw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to convert media payload")
		return
	}
	s.conv.ReceiveAudio(pcm)
}

// awaitStart reads until the "start" event, skipping "connected".
func awaitStart(conn *websocket.Conn) (*TwilioStart, error) {
	if err := conn.SetReadDeadline(time.Now().Add(startTimeout)); err != nil {
		return nil, err
	}
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		msg, err := parseMessage(data)
		if err != nil {
			return nil, err
		}
		switch msg.Event {
		case eventConnected:
			continue
		case eventStart:
			if msg.Start == nil || msg.Start.CallSid == "" {
				return nil, errors.New("start event missing call sid")
			}
			if msg.Start.StreamSid == "" {
				msg.Start.StreamSid = msg.StreamSid
			}
			return msg.Start, nil
		case eventStop:
			return nil, errors.New("stream stopped before start")
		default:
			return nil, fmt.Errorf("unexpected %q event before start", msg.Event)
		}
	}
}

func conversationConfig(cfg *config.Config, callID string) conversation.Config {
	return conversation.Config{
		ID:                      callID,
		AllowInterruptions:      cfg.AllowInterruptions,
		MinActivityDuration:     cfg.MinActivityDuration(),
		SpeechRatio:             cfg.SpeechRatio,
		FinishSentenceThreshold: cfg.FinishSentenceThreshold,
		OutputChunk:             time.Duration(cfg.OutputChunkMs) * time.Millisecond,
		InputFormat:             audio.TelephonyLinear16,
		OutputFormat:            audio.TelephonyMulaw,
	}
}
