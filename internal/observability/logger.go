package observability

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	loggerMu sync.RWMutex
	logger   = zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
)

// InitLogger configures the process logger. Unknown levels fall back to info;
// pretty selects console output for local development instead of JSON.
func InitLogger(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(out).With().Timestamp().Str("service", serviceName).Logger()

	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	log.Logger = l
}

// GetLogger returns the process logger.
func GetLogger() zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// WithCorrelationID tags the process logger with a correlation id, generating
// one when empty.
func WithCorrelationID(correlationID string) zerolog.Logger {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return GetLogger().With().Str("correlation_id", correlationID).Logger()
}

// ForCall returns a call-scoped logger. streamSID may be empty until the media
// stream starts.
func ForCall(correlationID, callID, streamSID string) zerolog.Logger {
	ctx := WithCorrelationID(correlationID).With().Str("call_id", callID)
	if streamSID != "" {
		ctx = ctx.Str("stream_sid", streamSID)
	}
	return ctx.Logger()
}

func NewCorrelationID() string {
	return uuid.NewString()
}
