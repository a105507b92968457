// Package vad classifies input frames as speech or silence and decides when
// sustained caller speech should interrupt the bot.
package vad

import (
	"fmt"

	"github.com/lexiqai/voice-agent/internal/audio"
	"github.com/lexiqai/voice-agent/internal/provider"
)

// Backend classifies a single frame of 16-bit little-endian PCM.
type Backend interface {
	IsVoiceActive(frame []byte) (bool, error)
}

// EnergyParams configures the fixed-threshold backend.
type EnergyParams struct {
	Threshold float64 `json:"threshold"` // RMS above which a frame is speech
}

// EnergyBackend is an RMS threshold detector.
type EnergyBackend struct {
	threshold float64
}

// NewEnergyBackend creates an energy backend. The threshold must be positive.
func NewEnergyBackend(params EnergyParams) (*EnergyBackend, error) {
	if params.Threshold <= 0 {
		return nil, fmt.Errorf("%w: threshold must be positive, got %v", provider.ErrInvalidConfig, params.Threshold)
	}
	return &EnergyBackend{threshold: params.Threshold}, nil
}

// IsVoiceActive reports whether the frame's RMS exceeds the threshold.
func (b *EnergyBackend) IsVoiceActive(frame []byte) (bool, error) {
	rms, err := audio.PCMRMS(frame)
	if err != nil {
		return false, err
	}
	return rms > b.threshold, nil
}

// AdaptiveParams configures the adaptive backend.
type AdaptiveParams struct {
	InitialFloor float64 `json:"initial_floor"` // starting noise floor estimate (RMS)
	Margin       float64 `json:"margin"`        // speech must exceed floor*margin
	Alpha        float64 `json:"alpha"`         // EMA weight of each silent frame, in (0, 1]
	MinThreshold float64 `json:"min_threshold"` // lower bound on the effective threshold
}

// DefaultAdaptiveParams suit 8kHz telephone audio.
func DefaultAdaptiveParams() AdaptiveParams {
	return AdaptiveParams{
		InitialFloor: 150,
		Margin:       3,
		Alpha:        0.05,
		MinThreshold: 300,
	}
}

// AdaptiveBackend tracks the line's noise floor with an exponential moving
// average over silent frames and calls a frame speech when it rises a margin
// above that floor. Not safe for concurrent use.
type AdaptiveBackend struct {
	params AdaptiveParams
	floor  float64
}

// NewAdaptiveBackend creates an adaptive backend.
func NewAdaptiveBackend(params AdaptiveParams) (*AdaptiveBackend, error) {
	switch {
	case params.InitialFloor < 0:
		return nil, fmt.Errorf("%w: initial_floor must not be negative", provider.ErrInvalidConfig)
	case params.Margin <= 1:
		return nil, fmt.Errorf("%w: margin must be greater than 1, got %v", provider.ErrInvalidConfig, params.Margin)
	case params.Alpha <= 0 || params.Alpha > 1:
		return nil, fmt.Errorf("%w: alpha must be in (0, 1], got %v", provider.ErrInvalidConfig, params.Alpha)
	case params.MinThreshold < 0:
		return nil, fmt.Errorf("%w: min_threshold must not be negative", provider.ErrInvalidConfig)
	}
	return &AdaptiveBackend{params: params, floor: params.InitialFloor}, nil
}

// IsVoiceActive compares the frame against the current floor and, for
// non-speech frames, folds the frame into the floor.
func (b *AdaptiveBackend) IsVoiceActive(frame []byte) (bool, error) {
	rms, err := audio.PCMRMS(frame)
	if err != nil {
		return false, err
	}
	if rms > b.Threshold() {
		return true, nil
	}
	b.floor += b.params.Alpha * (rms - b.floor)
	return false, nil
}

// Threshold is the RMS a frame currently has to exceed.
func (b *AdaptiveBackend) Threshold() float64 {
	t := b.floor * b.params.Margin
	if t < b.params.MinThreshold {
		return b.params.MinThreshold
	}
	return t
}

// Register installs the built-in backends.
func Register(reg *provider.Registry[Backend]) error {
	if err := reg.Register("energy", func(cfg provider.Config) (Backend, error) {
		params := EnergyParams{Threshold: 500}
		if err := cfg.Decode(&params); err != nil {
			return nil, err
		}
		return NewEnergyBackend(params)
	}); err != nil {
		return err
	}

	return reg.Register("adaptive_energy", func(cfg provider.Config) (Backend, error) {
		params := DefaultAdaptiveParams()
		if err := cfg.Decode(&params); err != nil {
			return nil, err
		}
		return NewAdaptiveBackend(params)
	})
}
