// Package noise holds the noise suppression stage that sits between the raw
// caller audio and both the interruption detector and the transcriber.
package noise

import (
	"fmt"
	"time"

	"github.com/lexiqai/voice-agent/internal/audio"
	"github.com/lexiqai/voice-agent/internal/provider"
)

// Canceler denoises 16-bit PCM frames. CancelNoise returns exactly len(frame)
// bytes, never blocks and never fails; a backend that cannot produce output yet
// returns silence.
type Canceler interface {
	CancelNoise(frame []byte) []byte
}

// Passthrough is the "none" backend.
type Passthrough struct{}

// CancelNoise returns frame unchanged.
func (Passthrough) CancelNoise(frame []byte) []byte {
	return frame
}

// GateParams configures NoiseGate.
type GateParams struct {
	WindowMs    int     `json:"window_ms"`   // processing window
	Threshold   float64 `json:"threshold"`   // RMS below which a window is noise
	Attenuation float64 `json:"attenuation"` // gain applied to noise windows, in [0, 1]
	HoldMs      int     `json:"hold_ms"`     // keep the gate open this long after speech
	BufferMs    int     `json:"buffer_ms"`   // capacity of the input and output buffers
}

// DefaultGateParams suit 8kHz telephone audio.
func DefaultGateParams() GateParams {
	return GateParams{
		WindowMs:    10,
		Threshold:   300,
		Attenuation: 0.1,
		HoldMs:      150,
		BufferMs:    500,
	}
}

// NoiseGate attenuates windows whose energy stays under a threshold. Input is
// buffered and processed in fixed windows, so output lags input by less than
// one window. Not safe for concurrent use.
type NoiseGate struct {
	params GateParams
	format audio.Format

	in, out *audio.RingBuffer
	window  []byte
	holdFor time.Duration
	held    time.Duration
}

// NewNoiseGate creates a gate for 8kHz linear16 audio.
func NewNoiseGate(params GateParams) (*NoiseGate, error) {
	switch {
	case params.WindowMs <= 0:
		return nil, fmt.Errorf("%w: window_ms must be positive", provider.ErrInvalidConfig)
	case params.Threshold < 0:
		return nil, fmt.Errorf("%w: threshold must not be negative", provider.ErrInvalidConfig)
	case params.Attenuation < 0 || params.Attenuation > 1:
		return nil, fmt.Errorf("%w: attenuation must be in [0, 1], got %v", provider.ErrInvalidConfig, params.Attenuation)
	case params.HoldMs < 0:
		return nil, fmt.Errorf("%w: hold_ms must not be negative", provider.ErrInvalidConfig)
	case params.BufferMs < 2*params.WindowMs:
		return nil, fmt.Errorf("%w: buffer_ms must hold at least two windows", provider.ErrInvalidConfig)
	}

	format := audio.TelephonyLinear16
	bufSize := format.BytesFor(time.Duration(params.BufferMs)*time.Millisecond)
	return &NoiseGate{
		params:  params,
		format:  format,
		in:      audio.NewRingBuffer(bufSize),
		out:     audio.NewRingBuffer(bufSize),
		window:  make([]byte, format.BytesFor(time.Duration(params.WindowMs)*time.Millisecond)),
		holdFor: time.Duration(params.HoldMs) * time.Millisecond,
	}, nil
}

// CancelNoise buffers frame, gates every complete window and returns the next
// len(frame) processed bytes, or silence while fewer are ready. Frames larger
// than the configured buffer grow it, so output always catches up.
func (g *NoiseGate) CancelNoise(frame []byte) []byte {
	if need := len(frame) + 2*len(g.window); g.in.Cap() < need || g.out.Cap() < need {
		g.in.Grow(need)
		g.out.Grow(need)
	}
	g.in.Write(frame)
	for g.in.Len() >= len(g.window) && g.out.Free() >= len(g.window) {
		g.in.ReadFull(g.window)
		g.gate(g.window)
		g.out.Write(g.window)
	}

	result := make([]byte, len(frame))
	if !g.out.ReadFull(result) {
		return g.format.Silence(len(frame))
	}
	return result
}

func (g *NoiseGate) gate(window []byte) {
	samples, err := audio.BytesToSamples(window)
	if err != nil {
		return
	}

	windowDur := g.format.Duration(len(window))
	if audio.CalculateRMS(samples) >= g.params.Threshold {
		g.held = g.holdFor
		return
	}
	if g.held > 0 {
		g.held -= windowDur
		return
	}

	for i, s := range samples {
		samples[i] = int16(float64(s) * g.params.Attenuation)
	}
	copy(window, audio.SamplesToBytes(samples))
}

// Register installs the built-in cancelers.
func Register(reg *provider.Registry[Canceler]) error {
	if err := reg.Register("none", func(cfg provider.Config) (Canceler, error) {
		if err := cfg.Decode(&struct{}{}); err != nil {
			return nil, err
		}
		return Passthrough{}, nil
	}); err != nil {
		return err
	}

	return reg.Register("noise_gate", func(cfg provider.Config) (Canceler, error) {
		params := DefaultGateParams()
		if err := cfg.Decode(&params); err != nil {
			return nil, err
		}
		return NewNoiseGate(params)
	})
}
