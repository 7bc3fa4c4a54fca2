package agent

import (
	"errors"
	"fmt"
)

// ErrMaxHops is returned when the model keeps requesting tools past
// the configured hop limit.
var ErrMaxHops = errors.New("turn exceeded maximum model hops")

// ErrMalformedResponse is returned when a model response cannot drive
// the loop, such as a tool call without a name.
var ErrMalformedResponse = errors.New("malformed model response")

// ErrEmptyMessage is returned for a turn with no user text.
var ErrEmptyMessage = errors.New("empty user message")

// ModelError reports a failed model hop. Model errors are fatal to the
// turn.
type ModelError struct {
	Hop int
	Err error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model call failed on hop %d: %v", e.Hop, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }
