package turn

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/lexiqai/voice-agent/internal/provider"
)

// ContextTracker decides whether the caller's accumulated final transcript is
// a complete turn the agent should answer.
type ContextTracker interface {
	IsUtteranceComplete(ctx context.Context, text string) (bool, error)
}

// Always treats every non-empty transcript as complete. This is the "none"
// tracker.
type Always struct{}

// IsUtteranceComplete reports whether text has any content.
func (Always) IsUtteranceComplete(_ context.Context, text string) (bool, error) {
	return strings.TrimSpace(text) != "", nil
}

// PunctuationParams configures the punctuation tracker.
type PunctuationParams struct {
	// MinWords completes an unpunctuated turn of at least this many words
	// unless it ends on a connective. Zero requires punctuation.
	MinWords int `json:"min_words"`
}

// Punctuation completes a turn on terminal punctuation, or on length when the
// transcriber does not punctuate.
type Punctuation struct {
	minWords int
}

// NewPunctuation creates a punctuation tracker.
func NewPunctuation(params PunctuationParams) (*Punctuation, error) {
	if params.MinWords < 0 {
		return nil, fmt.Errorf("%w: min_words must not be negative", provider.ErrInvalidConfig)
	}
	return &Punctuation{minWords: params.MinWords}, nil
}

// words that promise more to come
var connectives = map[string]bool{
	"and": true, "but": true, "or": true, "so": true, "because": true,
	"the": true, "a": true, "an": true, "to": true, "of": true,
	"um": true, "uh": true, "like": true, "if": true, "then": true,
}

// IsUtteranceComplete applies the punctuation and length rules.
func (p *Punctuation) IsUtteranceComplete(_ context.Context, text string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return false, nil
	}

	switch text[len(text)-1] {
	case '.', '!', '?':
		return true, nil
	case ',', ';', ':', '-':
		return false, nil
	}

	words := strings.Fields(text)
	if p.minWords == 0 || len(words) < p.minWords {
		return false, nil
	}
	last := strings.ToLower(strings.TrimFunc(words[len(words)-1], unicode.IsPunct))
	return !connectives[last], nil
}

// RegisterTrackers installs the built-in context trackers.
func RegisterTrackers(reg *provider.Registry[ContextTracker]) error {
	if err := reg.Register("none", func(cfg provider.Config) (ContextTracker, error) {
		if err := cfg.Decode(&struct{}{}); err != nil {
			return nil, err
		}
		return Always{}, nil
	}); err != nil {
		return err
	}

	return reg.Register("punctuation", func(cfg provider.Config) (ContextTracker, error) {
		var params PunctuationParams
		if err := cfg.Decode(&params); err != nil {
			return nil, err
		}
		return NewPunctuation(params)
	})
}
