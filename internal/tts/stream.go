package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-agent/internal/audio"
	"github.com/lexiqai/voice-agent/internal/observability"
	"github.com/lexiqai/voice-agent/internal/resilience"
)

// pcmToMulaw converts a 16-bit PCM stream at inRate into 8kHz μ-law. Input is
// converted in whole resampling frames so chunk boundaries never drift.
type pcmToMulaw struct {
	inRate     int
	frameBytes int
	carry      []byte
}

func newPCMToMulaw(inRate int) *pcmToMulaw {
	g := gcd(inRate, telephonyHz)
	return &pcmToMulaw{inRate: inRate, frameBytes: inRate / g * 2}
}

func (p *pcmToMulaw) convert(data []byte) ([]byte, error) {
	buf := append(p.carry, data...)
	n := len(buf) / p.frameBytes * p.frameBytes
	p.carry = append([]byte(nil), buf[n:]...)
	if n == 0 {
		return nil, nil
	}
	return audio.ConvertPCMToPCMU(buf[:n], p.inRate, telephonyHz)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// statusError is a non-2xx vendor response.
type statusError struct {
	vendor string
	code   int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s API returned status %d: %s", e.vendor, e.code, e.body)
}

func isRetryableHTTP(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return resilience.IsRetryableNetworkError(err)
}

// httpStreamer opens a streaming HTTP synthesis request with retry and a
// circuit breaker, then pumps the body into a Synthesis.
type httpStreamer struct {
	vendor  string
	client  *http.Client
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

func (h *httpStreamer) open(ctx context.Context, newRequest func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response
	err := h.breaker.Call(func() error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			req, err := newRequest(ctx)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			r, err := h.client.Do(req)
			if err != nil {
				return fmt.Errorf("failed to make request: %w", err)
			}
			if r.StatusCode < 200 || r.StatusCode >= 300 {
				body, _ := io.ReadAll(io.LimitReader(r.Body, 512))
				r.Body.Close()
				return &statusError{vendor: h.vendor, code: r.StatusCode, body: string(body)}
			}
			resp = r
			return nil
		}, h.retry, isRetryableHTTP)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// pump reads the body into s, passing each read through convert, and
// finishes s with the terminal error.
func (h *httpStreamer) pump(ctx context.Context, resp *http.Response, s *Synthesis, convert func([]byte) ([]byte, error)) {
	ctx, span := observability.StartSpan(ctx, h.vendor+".synthesize")

	var total int
	err := func() error {
		defer resp.Body.Close()
		buf := make([]byte, readSize)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				out, err := convert(append([]byte(nil), buf[:n]...))
				if err != nil {
					return fmt.Errorf("failed to convert audio: %w", err)
				}
				total += len(out)
				if err := s.Emit(ctx, out); err != nil {
					return err
				}
			}
			if rerr != nil {
				if errors.Is(rerr, io.EOF) {
					return nil
				}
				return fmt.Errorf("%s read error: %w", h.vendor, rerr)
			}
		}
	}()

	if err == nil && total == 0 {
		h.logger.Warn().Msg("Synthesis returned empty audio")
	}
	h.logger.Debug().Int("bytes", total).Err(err).Msg("Synthesis finished")
	observability.EndSpan(span, err)
	s.Finish(err)
}
