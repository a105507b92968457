package action

import (
	"fmt"

	"github.com/lexiqai/voice-agent/internal/provider"
)

// Register installs the call actions. control may be nil when no Twilio
// credentials are configured; actions that need it then fail to resolve.
func Register(reg *provider.Registry[Action], control CallControl) error {
	if err := reg.Register("end_conversation", func(cfg provider.Config) (Action, error) {
		var params EndConversationParams
		if err := cfg.Decode(&params); err != nil {
			return nil, err
		}
		a, err := NewEndConversation(params, control)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", provider.ErrInvalidConfig, err)
		}
		return a, nil
	}); err != nil {
		return err
	}

	return reg.Register("transfer_call", func(cfg provider.Config) (Action, error) {
		var params TransferCallParams
		if err := cfg.Decode(&params); err != nil {
			return nil, err
		}
		a, err := NewTransferCall(params, control)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", provider.ErrInvalidConfig, err)
		}
		return a, nil
	})
}
