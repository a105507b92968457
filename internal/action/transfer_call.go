package action

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/twilio/twilio-go/twiml"

	"github.com/lexiqai/voice-agent/internal/call"
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// TransferCallParams are the "transfer_call" provider parameters. The agent
// may override PhoneNumber per request.
type TransferCallParams struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message,omitempty"`
}

// TransferCall hands the caller to a human by replacing the call's TwiML with
// a <Dial>.
type TransferCall struct {
	params  TransferCallParams
	control CallControl
}

func NewTransferCall(params TransferCallParams, control CallControl) (*TransferCall, error) {
	if control == nil {
		return nil, fmt.Errorf("transfer_call requires Twilio credentials")
	}
	if params.PhoneNumber != "" && !e164.MatchString(params.PhoneNumber) {
		return nil, fmt.Errorf("phone_number %q is not E.164", params.PhoneNumber)
	}
	return &TransferCall{params: params, control: control}, nil
}

func (t *TransferCall) Name() string { return "transfer_call" }

// TwiML renders the transfer document for number.
func (t *TransferCall) TwiML(number string) (string, error) {
	var elems []twiml.Element
	if t.params.Message != "" {
		elems = append(elems, &twiml.VoiceSay{Message: t.params.Message})
	}
	elems = append(elems, &twiml.VoiceDial{Number: number})
	return twiml.Voice(elems)
}

func (t *TransferCall) Run(ctx context.Context, c *Call, params json.RawMessage) (*Result, error) {
	req := TransferCallParams{PhoneNumber: t.params.PhoneNumber}
	if err := decodeParams(params, &req); err != nil {
		return nil, fmt.Errorf("invalid transfer_call params: %w", err)
	}
	if !e164.MatchString(req.PhoneNumber) {
		return nil, fmt.Errorf("cannot transfer to %q: not an E.164 number", req.PhoneNumber)
	}

	doc, err := t.TwiML(req.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to build transfer TwiML: %w", err)
	}

	if c.Tracker != nil {
		if err := c.Tracker.Transition(ctx, call.Transferring); err != nil {
			return nil, err
		}
	}
	// A failed redirect leaves the call Transferring; hanging up later ends it
	// as ENDED_AFTER_TRANSFER.
	if err := t.control.Redirect(ctx, c.SID, doc); err != nil {
		return nil, err
	}
	if c.Tracker != nil {
		if err := c.Tracker.Transition(ctx, call.Transferred); err != nil {
			return nil, err
		}
	}

	c.Logger.Info().Str("to", req.PhoneNumber).Msg("Call transferred")
	return &Result{Message: "transferred the call to " + req.PhoneNumber, EndConversation: true}, nil
}
