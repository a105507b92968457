package conversation

import (
	"errors"
	"fmt"

	"github.com/lexiqai/voice-agent/internal/action"
	"github.com/lexiqai/voice-agent/internal/agent"
	"github.com/lexiqai/voice-agent/internal/config"
	"github.com/lexiqai/voice-agent/internal/noise"
	"github.com/lexiqai/voice-agent/internal/provider"
	"github.com/lexiqai/voice-agent/internal/stt"
	"github.com/lexiqai/voice-agent/internal/tts"
	"github.com/lexiqai/voice-agent/internal/turn"
	"github.com/lexiqai/voice-agent/internal/vad"
)

// Registries holds one registry per capability.
type Registries struct {
	Transcribers    *provider.Registry[stt.Transcriber]
	Synthesizers    *provider.Registry[tts.Synthesizer]
	Agents          *provider.Registry[agent.Agent]
	Actions         *provider.Registry[action.Action]
	NoiseCancelers  *provider.Registry[noise.Canceler]
	ContextTrackers *provider.Registry[turn.ContextTracker]
	VADs            *provider.Registry[vad.Backend]
}

// Deps are the process-wide collaborators provider constructors close over.
type Deps struct {
	STT    stt.Options
	TTS    tts.Options
	Agents *agent.Dialer

	// Calls may be nil when no Twilio credentials are configured.
	Calls action.CallControl
}

// NewRegistries builds and fills every registry.
func NewRegistries(d Deps) (Registries, error) {
	r := Registries{
		Transcribers:    provider.NewRegistry[stt.Transcriber]("transcriber"),
		Synthesizers:    provider.NewRegistry[tts.Synthesizer]("synthesizer"),
		Agents:          provider.NewRegistry[agent.Agent]("agent"),
		Actions:         provider.NewRegistry[action.Action]("action"),
		NoiseCancelers:  provider.NewRegistry[noise.Canceler]("noise_canceler"),
		ContextTrackers: provider.NewRegistry[turn.ContextTracker]("context_tracker"),
		VADs:            provider.NewRegistry[vad.Backend]("vad"),
	}

	err := errors.Join(
		stt.Register(r.Transcribers, d.STT),
		tts.Register(r.Synthesizers, d.TTS),
		agent.Register(r.Agents, d.Agents),
		action.Register(r.Actions, d.Calls),
		noise.Register(r.NoiseCancelers),
		turn.RegisterTrackers(r.ContextTrackers),
		vad.Register(r.VADs),
	)
	if err != nil {
		return Registries{}, fmt.Errorf("failed to register providers: %w", err)
	}
	return r, nil
}

// Resolved is one conversation's set of provider instances.
type Resolved struct {
	InitialMessage string
	Transcriber    stt.Transcriber
	Synthesizer    tts.Synthesizer
	Agent          agent.Agent
	Actions        map[string]action.Action
	NoiseCanceler  noise.Canceler
	ContextTracker turn.ContextTracker
	VAD            vad.Backend
}

// Providers pairs the provider document with the registries that build it.
type Providers struct {
	doc *config.Providers
	reg Registries
}

func NewProviders(doc *config.Providers, reg Registries) *Providers {
	return &Providers{doc: doc, reg: reg}
}

// ResolveAll builds fresh instances of every configured provider. Stateful
// providers (transcriber, noise canceler, VAD) must not be shared between
// calls, so this runs once per call and once at startup as validation.
func (p *Providers) ResolveAll() (*Resolved, error) {
	var (
		r   = &Resolved{InitialMessage: p.doc.InitialMessage, Actions: make(map[string]action.Action)}
		err error
	)

	if r.Transcriber, err = p.reg.Transcribers.Resolve(p.doc.Transcriber); err != nil {
		return nil, err
	}
	if r.Synthesizer, err = p.reg.Synthesizers.Resolve(p.doc.Synthesizer); err != nil {
		return nil, err
	}
	if r.Agent, err = p.reg.Agents.Resolve(p.doc.Agent); err != nil {
		return nil, err
	}
	if r.NoiseCanceler, err = p.reg.NoiseCancelers.Resolve(p.doc.NoiseCanceler); err != nil {
		return nil, err
	}
	if r.ContextTracker, err = p.reg.ContextTrackers.Resolve(p.doc.ContextTracker); err != nil {
		return nil, err
	}
	if r.VAD, err = p.reg.VADs.Resolve(p.doc.VAD); err != nil {
		return nil, err
	}
	for _, cfg := range p.doc.Actions {
		a, err := p.reg.Actions.Resolve(cfg)
		if err != nil {
			return nil, err
		}
		r.Actions[a.Name()] = a
	}
	return r, nil
}
