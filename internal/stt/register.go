package stt

import (
	"fmt"

	"github.com/lexiqai/voice-agent/internal/provider"
)

// Register installs the deepgram and google transcribers.
func Register(reg *provider.Registry[Transcriber], opts Options) error {
	if err := reg.Register("deepgram", func(cfg provider.Config) (Transcriber, error) {
		params := DefaultDeepgramParams()
		if err := cfg.Decode(&params); err != nil {
			return nil, err
		}
		if opts.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("%w: DEEPGRAM_API_KEY is not set", provider.ErrInvalidConfig)
		}
		return NewDeepgramClient(params, opts)
	}); err != nil {
		return err
	}

	return reg.Register("google", func(cfg provider.Config) (Transcriber, error) {
		params := DefaultGoogleParams()
		if err := cfg.Decode(&params); err != nil {
			return nil, err
		}
		return NewGoogleClient(params, opts)
	})
}
