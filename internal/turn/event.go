// Package turn implements the Turn Engine: the per-session
// tool-calling loop that turns one inbound user message into a complete
// assistant response, calling tools along the way.
package turn

import (
	"github.com/chatgate/chatgate/internal/llm"
	"github.com/chatgate/chatgate/internal/types"
)

// EventKind is the taxonomy of events a turn emits as it runs. The
// Streaming Fan-out package translates these into WS JSON events and SSE
// named events; ping/connected framing belongs to that transport layer, not
// to the turn itself.
type EventKind string

const (
	EventStart    EventKind = "start"
	EventDelta    EventKind = "stream"
	EventToolUse  EventKind = "tool_use"
	EventEnd      EventKind = "end"
	EventError    EventKind = "error"
)

// Event is one step of a turn's progress, delivered to the caller-supplied
// Emit callback as soon as it happens so it can be fanned out live.
type Event struct {
	Kind      EventKind
	SessionID string

	Delta string // EventDelta: a text fragment

	ToolName   string // EventToolUse
	ToolCallID string
	ToolInput  string
	ToolResult string
	ToolError  bool

	Message *types.Message // EventEnd: the final assistant message
	Usage   *llm.Usage     // EventEnd: backend-reported usage, if any
	Err     error          // EventError
}

// Emit is how a turn reports progress. Implementations must not block for
// long — a slow observer should buffer and drop, not stall the turn.
type Emit func(Event)
