package conn

import "slices"

// State represents the connection lifecycle state.
type State string

const (
	StateClosed        State = "CLOSED"
	StateConnecting    State = "CONNECTING"
	StateOpen          State = "OPEN"
	StateClosing       State = "CLOSING"
	StateReconnectWait State = "RECONNECT_WAIT"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	StateClosed:        {StateConnecting},
	StateConnecting:    {StateOpen, StateReconnectWait, StateClosing, StateClosed},
	StateOpen:          {StateClosing, StateReconnectWait, StateClosed},
	StateClosing:       {StateClosed},
	StateReconnectWait: {StateConnecting, StateClosed},
}

func canTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// StateChange is the payload of conn.state_changed events.
type StateChange struct {
	From State
	To   State
	Err  error
}
