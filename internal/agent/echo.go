package agent

import (
	"context"
	"strings"
)

// EchoParams are the "echo" provider parameters.
type EchoParams struct {
	Prefix string `json:"prefix"`
}

// Echo repeats the caller's last message. It needs no backend and is used
// for smoke tests of the audio path.
type Echo struct {
	prefix string
}

// NewEcho creates an echo agent.
func NewEcho(params EchoParams) *Echo {
	return &Echo{prefix: params.Prefix}
}

// Respond streams the last user message back word by word.
func (e *Echo) Respond(ctx context.Context, _ string, history []Message) (<-chan *Response, error) {
	var last string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			last = history[i].Text
			break
		}
	}

	out := make(chan *Response, responseBuffer)
	go func() {
		defer close(out)
		words := strings.Fields(strings.TrimSpace(e.prefix + " " + last))
		for i, w := range words {
			if i > 0 {
				w = " " + w
			}
			select {
			case out <- &Response{Text: w}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- &Response{Done: true}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}
