package tools

import (
	"errors"
	"fmt"
)

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not in the connected set. The controller records it as a failed
// tool result so the model can re-plan.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.ToolName)
}

// ErrNotConnected is returned by Invoke before Connect has completed.
var ErrNotConnected = errors.New("tool registry not connected")

// ErrClosed is returned by Connect and Invoke after Close.
var ErrClosed = errors.New("tool registry closed")
