// Package stream translates Turn Engine events into the two wire formats
// the HTTP/WS Surface exposes: WebSocket JSON events and
// Server-Sent-Events.
package stream

import (
	"encoding/json"

	"github.com/chatgate/chatgate/internal/turn"
	"github.com/chatgate/chatgate/internal/types"
)

// WSEvent is the JSON shape sent over the WebSocket connection. The event
// taxonomy is connected/start/stream/tool_use/end/error/ping — "connected"
// and "ping" are transport-level framing the httpapi layer emits directly;
// the rest are produced here from turn.Event.
type WSEvent struct {
	Type       string         `json:"type"`
	SessionID  string         `json:"sessionId,omitempty"`
	Delta      string         `json:"delta,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolInput  string         `json:"toolInput,omitempty"`
	ToolResult string         `json:"toolResult,omitempty"`
	ToolError  bool           `json:"toolError,omitempty"`
	Message    *types.Message `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ConnectedEvent is the first frame sent on every new WS connection.
func ConnectedEvent() WSEvent { return WSEvent{Type: "connected"} }

// PingEvent is sent on the 30s keepalive tick.
func PingEvent() WSEvent { return WSEvent{Type: "ping"} }

// FromTurnEvent converts a turn.Event into its WS wire shape.
func FromTurnEvent(ev turn.Event) WSEvent {
	out := WSEvent{Type: string(ev.Kind), SessionID: ev.SessionID}
	switch ev.Kind {
	case turn.EventDelta:
		out.Delta = ev.Delta
	case turn.EventToolUse:
		out.ToolName = ev.ToolName
		out.ToolCallID = ev.ToolCallID
		out.ToolInput = ev.ToolInput
		out.ToolResult = ev.ToolResult
		out.ToolError = ev.ToolError
	case turn.EventEnd:
		out.Message = ev.Message
	case turn.EventError:
		if ev.Err != nil {
			out.Error = ev.Err.Error()
		}
	}
	return out
}

// SSEFrame is one frame of a Server-Sent-Events response: Event is empty
// for the default "message" event (a plain text delta), or one of
// tool_start/tool_end/done/error for named events.
type SSEFrame struct {
	Event string
	Data  string
}

// sseDoneBody is the JSON body the "done" event carries: the model that
// answered plus the backend-reported token usage.
type sseDoneBody struct {
	Model string   `json:"model"`
	Usage sseUsage `json:"usage"`
}

type sseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToSSEFrame converts a turn.Event to the SSE frame it maps to, or false if
// the event produces no SSE frame (EventStart has no SSE equivalent; the
// HTTP handler itself opens the stream).
func ToSSEFrame(ev turn.Event) (SSEFrame, bool) {
	switch ev.Kind {
	case turn.EventDelta:
		return SSEFrame{Data: ev.Delta}, true
	case turn.EventToolUse:
		if ev.ToolResult == "" {
			return SSEFrame{Event: "tool_start", Data: ev.ToolName}, true
		}
		return SSEFrame{Event: "tool_end", Data: ev.ToolName + ": " + ev.ToolResult}, true
	case turn.EventEnd:
		body := sseDoneBody{}
		if ev.Message != nil {
			body.Model = ev.Message.ModelUsed
			body.Usage.TotalTokens = ev.Message.Tokens
		}
		if ev.Usage != nil {
			body.Usage = sseUsage{
				PromptTokens:     ev.Usage.PromptTokens,
				CompletionTokens: ev.Usage.CompletionTokens,
				TotalTokens:      ev.Usage.TotalTokens,
			}
		}
		data, _ := json.Marshal(body)
		return SSEFrame{Event: "done", Data: string(data)}, true
	case turn.EventError:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return SSEFrame{Event: "error", Data: msg}, true
	default:
		return SSEFrame{}, false
	}
}
