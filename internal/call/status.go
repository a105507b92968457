// Package call tracks the lifecycle of a phone call from the moment the agent
// picks up until it hangs up or hands the caller to a human.
package call

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for a status change the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid call status transition")

// Status is the call lifecycle state. The zero value is Pending.
type Status int

const (
	Pending Status = iota
	Autocalling
	Transferring
	Transferred
	EndedAfterTransfer
	EndedBeforeTransfer
)

var statusNames = [...]string{
	Pending:             "PENDING",
	Autocalling:         "AUTOCALLING",
	Transferring:        "TRANSFERRING",
	Transferred:         "TRANSFERRED",
	EndedAfterTransfer:  "ENDED_AFTER_TRANSFER",
	EndedBeforeTransfer: "ENDED_BEFORE_TRANSFER",
}

var transitions = map[Status][]Status{
	Pending:      {Autocalling},
	Autocalling:  {Transferring, EndedBeforeTransfer},
	Transferring: {Transferred, EndedAfterTransfer},
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("unknown call status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown call status %q", text)
}
