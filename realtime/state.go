package realtime

import (
	"encoding/json"
	"fmt"
)

// State represents the connection state of the realtime channel.
type State int32

const (
	// StateDisconnected indicates no socket is open.
	StateDisconnected State = iota

	// StateConnecting indicates a dial or reconnect attempt is in progress.
	StateConnecting

	// StateConnected indicates the socket is open but the session has not
	// been authenticated yet.
	StateConnected

	// StateAuthenticated indicates the server accepted our credentials.
	StateAuthenticated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseState(str)
	return nil
}

// ParseState converts a string to State.
func ParseState(s string) State {
	switch s {
	case "connecting":
		return StateConnecting
	case "connected":
		return StateConnected
	case "authenticated":
		return StateAuthenticated
	default:
		return StateDisconnected
	}
}

// IsOnline reports whether the socket is open in this state.
func (s State) IsOnline() bool {
	return s == StateConnected || s == StateAuthenticated
}

// ValidTransitions defines allowed connection state transitions. Any online
// state can drop straight to disconnected when the socket fails.
var ValidTransitions = map[State][]State{
	StateDisconnected:  {StateConnecting},
	StateConnecting:    {StateConnected, StateDisconnected},
	StateConnected:     {StateAuthenticated, StateDisconnected},
	StateAuthenticated: {StateDisconnected},
}

// CanTransition returns true if the transition from -> to is valid.
func CanTransition(from, to State) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError represents an invalid connection state transition.
type TransitionError struct {
	From State
	To   State
}

// Error implements error.
func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
