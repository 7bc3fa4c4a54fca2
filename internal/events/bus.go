// Package events provides a publish/subscribe event bus for operational
// observability. Turn lifecycle events flow from the agent controller and
// the chat service to subscribers such as the /v1/events WebSocket. The
// bus is nil-safe: calling Publish on a nil *Bus is a no-op, so
// components do not need guard checks.
//
// These events are diagnostics only. The ordered transcript of a turn is
// carried by the agent's own event stream, never by the bus, which may
// drop events for slow subscribers.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceAgent identifies events from the turn controller.
	SourceAgent = "agent"
	// SourceChat identifies events from the chat service.
	SourceChat = "chat"
	// SourceTools identifies events from the tool registry.
	SourceTools = "tools"
	// SourceHealth identifies events from the connection monitor.
	SourceHealth = "health"
)

// Kind constants describe the type of event within a source.
const (
	// KindTurnStart signals the beginning of a turn.
	// Data: thread_id, user_id.
	KindTurnStart = "turn_start"
	// KindModelCall signals the start of a model hop.
	// Data: thread_id, hop, model.
	KindModelCall = "model_call"
	// KindModelResponse signals completion of a model hop.
	// Data: thread_id, hop, model, tokens_in, tokens_out, tool_calls.
	KindModelResponse = "model_response"
	// KindToolCall signals a tool invocation is about to start.
	// Data: thread_id, tool, call_id.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool invocation.
	// Data: thread_id, tool, call_id, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindTurnComplete signals a turn reached DONE.
	// Data: thread_id, hops, tool_calls, elapsed_ms.
	KindTurnComplete = "turn_complete"
	// KindTurnFailed signals a turn reached FAILED.
	// Data: thread_id, hops, error, elapsed_ms.
	KindTurnFailed = "turn_failed"

	// KindTranscriptAppended signals the chat service stored records.
	// Data: thread_id, records.
	KindTranscriptAppended = "transcript_appended"

	// KindSourceUnavailable signals a tool source failed to connect.
	// Data: source, error.
	KindSourceUnavailable = "source_unavailable"

	// KindServiceReady signals a watched service answered its check.
	// Data: service.
	KindServiceReady = "service_ready"
	// KindServiceDown signals a watched service stopped answering.
	// Data: service, error.
	KindServiceDown = "service_down"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{
		Timestamp: time.Now(),
		Source:    source,
		Kind:      kind,
		Data:      data,
	})
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
