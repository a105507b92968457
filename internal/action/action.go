// Package action implements the call actions a dialogue agent may request.
package action

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-agent/internal/call"
)

// Call is the live call an action operates on.
type Call struct {
	SID     string
	Tracker *call.Tracker
	Logger  zerolog.Logger
}

// Result tells the conversation what happened.
type Result struct {
	// Message is recorded in the transcript.
	Message string

	// EndConversation stops the conversation after the action.
	EndConversation bool
}

// Action is one agent-invokable operation on a call.
type Action interface {
	Name() string
	Run(ctx context.Context, c *Call, params json.RawMessage) (*Result, error)
}

// CallControl is the slice of the telephony REST API actions need.
type CallControl interface {
	Hangup(ctx context.Context, callSID string) error
	Redirect(ctx context.Context, callSID, twiml string) error
}

// decodeParams decodes runtime params strictly; empty params are allowed.
func decodeParams(params json.RawMessage, dst any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	return strictUnmarshal(params, dst)
}
