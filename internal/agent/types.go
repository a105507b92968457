package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who produced a transcript message.
type Role string

const (
	RoleUser   Role = "user"
	RoleBot    Role = "bot"
	RoleAction Role = "action"
)

// Message is one transcript entry. Bot messages hold only what the caller heard.
type Message struct {
	Role        Role
	Text        string
	Interrupted bool
	At          time.Time
}

// ActionRequest asks the conversation to run a call action.
type ActionRequest struct {
	Name   string
	Params json.RawMessage
}

// Error represents an error reported by the agent inside its stream
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent error %s: %s", e.Code, e.Message)
}

// Response is one element of an agent's streamed reply. Exactly one of
// Text, Action or Error is set, except on the final Done response.
type Response struct {
	Text   string
	Action *ActionRequest
	Error  *Error
	Done   bool
}

// Agent produces the bot's reply to the conversation so far.
type Agent interface {
	// Respond streams a reply. The channel is closed when the reply ends
	// or ctx is cancelled.
	Respond(ctx context.Context, conversationID string, history []Message) (<-chan *Response, error)
}

const responseBuffer = 100
