// Package turn decides when a user turn is over and how long a bot sentence
// takes to say, which the interruption policy uses to let short or nearly
// finished sentences play out.
package turn

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// MinWords is the length below which a sentence is always allowed to finish.
const MinWords = 5

//go:embed duration_model.json
var defaultModel []byte

// Model holds the coefficients of seconds = A·n² + B·n + C, with n the
// estimated token count.
type Model struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
}

// ParseModel decodes a model document.
func ParseModel(data []byte) (Model, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var m Model
	if err := dec.Decode(&m); err != nil {
		return Model{}, fmt.Errorf("failed to parse duration model: %w", err)
	}
	return m, nil
}

// Estimator predicts spoken duration from text length.
type Estimator struct {
	model Model
}

// NewEstimator validates m. Non-negative A and B keep the curve increasing for
// every non-negative token count.
func NewEstimator(m Model) (*Estimator, error) {
	if m.A < 0 || m.B < 0 {
		return nil, fmt.Errorf("duration model is not monotonic: a=%v b=%v", m.A, m.B)
	}
	if math.IsNaN(m.A+m.B+m.C) || math.IsInf(m.A+m.B+m.C, 0) {
		return nil, fmt.Errorf("duration model has non-finite coefficients")
	}
	return &Estimator{model: m}, nil
}

// DefaultEstimator loads the embedded model.
func DefaultEstimator() (*Estimator, error) {
	m, err := ParseModel(defaultModel)
	if err != nil {
		return nil, err
	}
	return NewEstimator(m)
}

// EstimateTokens approximates tokens at four characters per token.
func EstimateTokens(text string) int {
	runes := len([]rune(text))
	if runes == 0 {
		return 0
	}
	return int(math.Ceil(float64(runes) / 4.0))
}

// EstimateDuration returns how long text takes to speak. Never negative.
func (e *Estimator) EstimateDuration(text string) time.Duration {
	n := float64(EstimateTokens(text))
	seconds := e.model.A*n*n + e.model.B*n + e.model.C
	if seconds < 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// ShouldFinishSentence reports whether a sentence that has been playing for
// spoken should be allowed to finish: sentences under MinWords always are,
// longer ones once more than threshold of their estimated duration has played.
func (e *Estimator) ShouldFinishSentence(text string, spoken time.Duration, threshold float64) bool {
	if len(strings.Fields(text)) < MinWords {
		return true
	}
	return float64(spoken) > threshold*float64(e.EstimateDuration(text))
}
