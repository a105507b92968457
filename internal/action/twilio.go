package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioControl drives live calls through the Twilio REST API.
type TwilioControl struct {
	client *twilio.RestClient
}

// NewTwilioControl creates a REST client for the account.
func NewTwilioControl(accountSID, authToken string) *TwilioControl {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioControl{client: client}
}

// Hangup completes the call.
func (t *TwilioControl) Hangup(_ context.Context, callSID string) error {
	params := &twilioApi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := t.client.Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("failed to hang up call %s: %w", callSID, err)
	}
	return nil
}

// Redirect replaces the call's running TwiML.
func (t *TwilioControl) Redirect(_ context.Context, callSID, twiml string) error {
	params := &twilioApi.UpdateCallParams{}
	params.SetTwiml(twiml)
	if _, err := t.client.Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("failed to redirect call %s: %w", callSID, err)
	}
	return nil
}

func strictUnmarshal(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
