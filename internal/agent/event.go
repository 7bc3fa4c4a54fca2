package agent

import (
	"time"
)

// Status is the outcome of a tool invocation.
type Status string

const (
	// StatusSucceeded marks a tool call that returned output.
	StatusSucceeded Status = "succeeded"
	// StatusFailed marks a tool call that raised, timed out, or named
	// an unknown tool.
	StatusFailed Status = "failed"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the completed outcome of a ToolCall.
type ToolResult struct {
	CallID   string        `json:"call_id"`
	ToolName string        `json:"tool_name"`
	Status   Status        `json:"status"`
	Payload  string        `json:"payload"`
	Duration time.Duration `json:"duration"`
}

// Event is one entry of a turn's ordered event stream. It is a closed
// union: the only implementations are ModelText, ToolStarted and
// ToolCompleted.
type Event interface {
	isEvent()
}

// ModelText carries assistant text: tool-hop narration or the final
// reply.
type ModelText struct {
	Content string
}

// ToolStarted is emitted immediately before a tool is invoked.
type ToolStarted struct {
	Call ToolCall
}

// ToolCompleted is emitted once per ToolStarted, after the invocation
// returns or fails.
type ToolCompleted struct {
	Result ToolResult
}

func (ModelText) isEvent()     {}
func (ToolStarted) isEvent()   {}
func (ToolCompleted) isEvent() {}
