// Package llm implements the Backend Client: a single
// OpenAI-compatible chat-completion dialect used to talk to the local model
// server, with no provider abstraction beyond that one dialect.
package llm

import (
	"context"

	"github.com/chatgate/chatgate/internal/types"
)

// Provider is the interface the Turn Engine and Model Router depend on. The
// core ships exactly one implementation (Client, the OpenAI-compatible
// dialect); the interface exists so tests can substitute a fake backend
// without touching the HTTP transport.
type Provider interface {
	// StreamMessage sends a chat-completion request for model and streams
	// the response, invoking onDelta for each text fragment as it arrives.
	// keepAlive is passed through as the request's keep_alive hint;
	// a zero value omits the field. Returns the assembled Response once the
	// backend signals completion (an assistant message, or one or more tool
	// calls).
	StreamMessage(
		ctx context.Context,
		model string,
		messages []types.Message,
		tools []types.ToolDefinition,
		keepAlive string,
		onDelta func(delta string),
	) (*Response, error)
}

// ToolCall is a single tool invocation the backend asked for.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON arguments, passed through uninterpreted
}

// Response is what StreamMessage assembles once the backend finishes:
// assistant text, one or more tool calls, or both (text that accompanies
// tool calls is kept as the pre-call text).
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     *Usage // nil if the backend didn't report usage
}

// Usage is the backend-reported token accounting for a completion, used in
// place of the local estimate for assistant messages.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
