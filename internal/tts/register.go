package tts

import (
	"fmt"

	"github.com/lexiqai/voice-agent/internal/provider"
)

// Register installs the cartesia and elevenlabs synthesizers.
func Register(reg *provider.Registry[Synthesizer], opts Options) error {
	if err := reg.Register("cartesia", func(cfg provider.Config) (Synthesizer, error) {
		params := DefaultCartesiaParams()
		if err := cfg.Decode(&params); err != nil {
			return nil, err
		}
		c, err := NewCartesiaClient(params, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", provider.ErrInvalidConfig, err)
		}
		return c, nil
	}); err != nil {
		return err
	}

	return reg.Register("elevenlabs", func(cfg provider.Config) (Synthesizer, error) {
		params := DefaultElevenLabsParams()
		if err := cfg.Decode(&params); err != nil {
			return nil, err
		}
		c, err := NewElevenLabsClient(params, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", provider.ErrInvalidConfig, err)
		}
		return c, nil
	})
}
