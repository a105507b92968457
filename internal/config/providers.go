package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lexiqai/voice-agent/internal/provider"
)

//go:embed default_providers.json
var defaultProviders []byte

// Providers is the conversation document: which backend serves each capability
// and with which parameters. Every provider-valued field carries its own "type".
type Providers struct {
	InitialMessage string            `json:"initial_message,omitempty"`
	Transcriber    provider.Config   `json:"transcriber"`
	Synthesizer    provider.Config   `json:"synthesizer"`
	Agent          provider.Config   `json:"agent"`
	Actions        []provider.Config `json:"actions,omitempty"`
	NoiseCanceler  provider.Config   `json:"noise_canceler"`
	ContextTracker provider.Config   `json:"context_tracker"`
	VAD            provider.Config   `json:"vad"`
}

// LoadProviders reads the document at path, or the embedded default when path
// is empty.
func LoadProviders(path string) (*Providers, error) {
	data := defaultProviders
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read providers file: %w", err)
		}
		data = b
	}
	return ParseProviders(data)
}

// ParseProviders decodes a provider document, rejecting unknown fields at the
// top level. Provider parameters are checked when each provider is resolved.
func ParseProviders(data []byte) (*Providers, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var p Providers
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse providers: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that the required capabilities are configured and fills the
// optional ones with their passthrough defaults.
func (p *Providers) Validate() error {
	required := []struct {
		name string
		cfg  provider.Config
	}{
		{"transcriber", p.Transcriber},
		{"synthesizer", p.Synthesizer},
		{"agent", p.Agent},
		{"vad", p.VAD},
	}
	for _, r := range required {
		if r.cfg.IsZero() {
			return &provider.ConfigError{Capability: r.name, Err: fmt.Errorf("%w: missing", provider.ErrInvalidConfig)}
		}
	}

	if p.NoiseCanceler.IsZero() {
		p.NoiseCanceler = provider.MustNew("none", nil)
	}
	if p.ContextTracker.IsZero() {
		p.ContextTracker = provider.MustNew("none", nil)
	}

	seen := make(map[string]bool, len(p.Actions))
	for _, a := range p.Actions {
		if seen[a.Type] {
			return &provider.ConfigError{Capability: "action", Type: a.Type, Err: provider.ErrDuplicateProvider}
		}
		seen[a.Type] = true
	}
	return nil
}
