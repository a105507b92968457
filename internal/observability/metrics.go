package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lexiqai/voice-agent/internal/resilience"
)

var (
	// Call metrics
	activeCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_agent_active_calls",
		Help: "Number of active phone calls",
	})

	totalCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_calls_total",
		Help: "Total number of calls processed",
	})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_call_duration_seconds",
		Help:    "Duration of phone calls in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	callStatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_call_status_transitions_total",
		Help: "Call status transitions by target status",
	}, []string{"status"})

	// Per-stage metrics for the transcriber, synthesizer and dialogue agent
	stageRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_stage_requests_total",
		Help: "Pipeline stage operations by outcome",
	}, []string{"stage", "status"})

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_agent_stage_latency_seconds",
		Help:    "Pipeline stage latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	timeToFirstAudio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_time_to_first_audio_seconds",
		Help:    "Time from a completed user turn to the first bot audio chunk sent",
		Buckets: []float64{0.25, 0.5, 0.75, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	// Playback metrics
	interruptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_interruptions_total",
		Help: "Confirmed barge-ins by outcome (interrupted, deferred, disabled)",
	}, []string{"outcome"})

	chunkStates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_audio_chunks_total",
		Help: "Audio chunks by terminal state",
	}, []string{"state"})

	spokenRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_utterance_spoken_ratio",
		Help:    "Share of each bot utterance the caller heard",
		Buckets: []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_agent_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Interruption outcomes
const (
	InterruptionInterrupted = "interrupted"
	InterruptionDeferred    = "deferred"
	InterruptionDisabled    = "disabled"
)

// Stage names a timed step of a turn.
type Stage string

const (
	StageSTT   Stage = "stt"   // first partial to final transcript
	StageAgent Stage = "agent" // request to end of reply stream
	StageTTS   Stage = "tts"   // request to last audio byte
)

// Metrics tracks metrics for a single call
type Metrics struct {
	callID    string
	startTime time.Time

	mu      sync.Mutex
	turnEnd time.Time
}

// NewCallMetrics creates a new metrics tracker for a call
func NewCallMetrics(callID string) *Metrics {
	return &Metrics{
		callID:    callID,
		startTime: time.Now(),
	}
}

// CallID returns the call the tracker belongs to.
func (m *Metrics) CallID() string {
	return m.callID
}

// RecordCallStart records the start of a call
func (m *Metrics) RecordCallStart() {
	activeCalls.Inc()
	totalCalls.Inc()
}

// RecordCallEnd records the end of a call
func (m *Metrics) RecordCallEnd() {
	activeCalls.Dec()
	callDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordCallStatus counts a status transition.
func (m *Metrics) RecordCallStatus(status string) {
	callStatusTransitions.WithLabelValues(status).Inc()
}

// RecordStage counts one stage operation and, when started is set, observes
// its latency.
func (m *Metrics) RecordStage(stage Stage, started time.Time, success bool) {
	if !started.IsZero() {
		stageLatency.WithLabelValues(string(stage)).Observe(time.Since(started).Seconds())
	}
	status := "success"
	if !success {
		status = "error"
	}
	stageRequests.WithLabelValues(string(stage), status).Inc()
}

// RecordTurnEnd marks the end of a user turn; the next RecordFirstAudio
// measures from here.
func (m *Metrics) RecordTurnEnd() {
	m.mu.Lock()
	m.turnEnd = time.Now()
	m.mu.Unlock()
}

// RecordFirstAudio observes time to first audio once per user turn.
func (m *Metrics) RecordFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.turnEnd.IsZero() {
		return
	}
	timeToFirstAudio.Observe(time.Since(m.turnEnd).Seconds())
	m.turnEnd = time.Time{}
}

// RecordInterruption counts a confirmed barge-in by outcome.
func (m *Metrics) RecordInterruption(outcome string) {
	interruptions.WithLabelValues(outcome).Inc()
}

// RecordChunkState counts an audio chunk reaching a terminal state.
func (m *Metrics) RecordChunkState(state string) {
	chunkStates.WithLabelValues(state).Inc()
}

// RecordSpokenRatio observes how much of an utterance was heard.
func (m *Metrics) RecordSpokenRatio(ratio float64) {
	spokenRatio.Observe(ratio)
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// BreakerMetrics exports circuit breaker events. Install it with
// CircuitBreaker.Observe.
type BreakerMetrics struct{}

func (BreakerMetrics) StateChanged(service string, _, to resilience.CircuitState) {
	circuitBreakerState.WithLabelValues(service).Set(float64(to))
}

func (BreakerMetrics) Failed(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
