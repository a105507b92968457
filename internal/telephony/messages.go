package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Media Streams event names.
const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventMark      = "mark"
	eventStop      = "stop"
	eventClear     = "clear"
)

// TwilioMessage is one inbound Media Streams event.
type TwilioMessage struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid,omitempty"`
	Media     *TwilioMedia `json:"media,omitempty"`
	Start     *TwilioStart `json:"start,omitempty"`
	Mark      *TwilioMark  `json:"mark,omitempty"`
	Stop      *TwilioStop  `json:"stop,omitempty"`
}

// TwilioMedia carries one base64 μ-law frame.
type TwilioMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// TwilioStart describes the call a stream belongs to.
type TwilioStart struct {
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

// TwilioMark echoes a mark we sent once the audio before it has played.
type TwilioMark struct {
	Name string `json:"name"`
}

type TwilioStop struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// outbound is an event written to Twilio.
type outbound struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     *TwilioMedia `json:"media,omitempty"`
	Mark      *TwilioMark  `json:"mark,omitempty"`
}

func parseMessage(data []byte) (*TwilioMessage, error) {
	var msg TwilioMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse twilio message: %w", err)
	}
	return &msg, nil
}

func (m *TwilioMedia) payload() ([]byte, error) {
	if m.Payload == "" {
		return nil, fmt.Errorf("media event missing payload")
	}
	return base64.StdEncoding.DecodeString(m.Payload)
}
