package action

import (
	"context"
	"encoding/json"
	"fmt"
)

// EndConversationParams are the "end_conversation" provider parameters.
type EndConversationParams struct {
	// HangUp ends the call through the REST API instead of letting the media
	// stream close fall through the TwiML.
	HangUp bool `json:"hang_up"`
}

// EndConversation finishes the call.
type EndConversation struct {
	params  EndConversationParams
	control CallControl
}

func NewEndConversation(params EndConversationParams, control CallControl) (*EndConversation, error) {
	if params.HangUp && control == nil {
		return nil, fmt.Errorf("hang_up requires Twilio credentials")
	}
	return &EndConversation{params: params, control: control}, nil
}

func (e *EndConversation) Name() string { return "end_conversation" }

func (e *EndConversation) Run(ctx context.Context, c *Call, params json.RawMessage) (*Result, error) {
	if err := decodeParams(params, &struct{}{}); err != nil {
		return nil, fmt.Errorf("invalid end_conversation params: %w", err)
	}

	if e.params.HangUp {
		if err := e.control.Hangup(ctx, c.SID); err != nil {
			return nil, err
		}
	}
	if c.Tracker != nil {
		if err := c.Tracker.End(ctx); err != nil {
			return nil, err
		}
	}

	c.Logger.Info().Bool("hang_up", e.params.HangUp).Msg("Conversation ended by agent")
	return &Result{Message: "ended the conversation", EndConversation: true}, nil
}
