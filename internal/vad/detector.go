package vad

import (
	"fmt"
	"time"

	"github.com/lexiqai/voice-agent/internal/audio"
)

// DetectorConfig tunes the interruption decision.
type DetectorConfig struct {
	// MinActivityDuration is the debounce window a speech run must span
	// before it is judged.
	MinActivityDuration time.Duration

	// SpeechRatio is the share of speech frames a run must exceed to count
	// as an interruption.
	SpeechRatio float64

	// Format of the frames passed to ShouldInterrupt. Defaults to 8kHz linear16.
	Format audio.Format
}

// InterruptDetector turns per-frame voice activity into a single "interrupt
// now" decision per sustained speech run.
//
// Time is stream time: each frame advances the clock by its own duration, so
// decisions do not depend on when frames happen to arrive. A run starts at the
// beginning of the speech frame that opened it and is judged at the end of the
// first frame that brings it to MinActivityDuration.
//
// Not safe for concurrent use; it runs on the input goroutine.
type InterruptDetector struct {
	backend Backend
	cfg     DetectorConfig

	clock         time.Duration
	tracking      bool
	runStart      time.Duration
	speechFrames  int
	silenceFrames int
	signaled      bool
}

// NewInterruptDetector wraps backend in the debounce state machine.
func NewInterruptDetector(backend Backend, cfg DetectorConfig) (*InterruptDetector, error) {
	if backend == nil {
		return nil, fmt.Errorf("vad backend is required")
	}
	if cfg.MinActivityDuration <= 0 {
		return nil, fmt.Errorf("min activity duration must be positive, got %v", cfg.MinActivityDuration)
	}
	// a run's ratio can never exceed 1
	if cfg.SpeechRatio <= 0 || cfg.SpeechRatio >= 1 {
		return nil, fmt.Errorf("speech ratio must be in (0, 1), got %v", cfg.SpeechRatio)
	}
	if cfg.Format.SampleRate == 0 {
		cfg.Format = audio.TelephonyLinear16
	}
	return &InterruptDetector{backend: backend, cfg: cfg}, nil
}

// IsVoiceActive classifies frame without touching the decision state.
func (d *InterruptDetector) IsVoiceActive(frame []byte) (bool, error) {
	return d.backend.IsVoiceActive(frame)
}

// ShouldInterrupt feeds one frame through the state machine. A backend error is
// returned as is and leaves the clock and counters untouched.
func (d *InterruptDetector) ShouldInterrupt(frame []byte) (bool, error) {
	speech, err := d.backend.IsVoiceActive(frame)
	if err != nil {
		return false, err
	}

	frameStart := d.clock
	d.clock += d.cfg.Format.Duration(len(frame))

	if speech {
		d.speechFrames++
	} else {
		d.silenceFrames++
	}

	if speech && !d.tracking {
		d.tracking = true
		d.runStart = frameStart
		d.speechFrames = 1
		d.silenceFrames = 0
	}
	if !d.tracking {
		return false, nil
	}
	if d.clock-d.runStart < d.cfg.MinActivityDuration {
		return false, nil
	}

	ratio := float64(d.speechFrames) / float64(d.speechFrames+d.silenceFrames)
	d.tracking = false
	if ratio > d.cfg.SpeechRatio {
		fire := !d.signaled
		d.signaled = true
		return fire, nil
	}
	d.signaled = false
	return false, nil
}

// Reset drops any tracked run and the latch. The stream clock keeps running.
func (d *InterruptDetector) Reset() {
	d.tracking = false
	d.signaled = false
	d.speechFrames = 0
	d.silenceFrames = 0
}

// Elapsed is the stream time consumed so far.
func (d *InterruptDetector) Elapsed() time.Duration {
	return d.clock
}
