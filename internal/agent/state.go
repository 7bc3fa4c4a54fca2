package agent

import "fmt"

// State is a turn's position in the controller state machine.
type State int

const (
	// StateRouting is the initial state: the prompt is assembled.
	StateRouting State = iota
	// StateCallingModel waits on a model hop.
	StateCallingModel
	// StateDispatchingTools runs the hop's tool calls in order.
	StateDispatchingTools
	// StateDone is terminal: the model answered without tool calls.
	StateDone
	// StateFailed is terminal: the turn hit an unrecoverable error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRouting:
		return "ROUTING"
	case StateCallingModel:
		return "CALLING_MODEL"
	case StateDispatchingTools:
		return "DISPATCHING_TOOLS"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the state ends a turn.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateRouting; st <= StateFailed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown turn state %q", b)
}
