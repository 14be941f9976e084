// Package tools implements the Tool Registry, Executor, and Policy.
package tools

import (
	"context"
	"encoding/json"

	"github.com/chatgate/chatgate/internal/types"
)

// ToolDefinition is an alias to types.ToolDefinition for convenience.
type ToolDefinition = types.ToolDefinition

// Source is where a tool definition came from.
type Source string

const (
	SourceBuiltin Source = "builtin" // compiled into the binary
	SourceUser    Source = "user"    // loaded from a skill-file directory
	SourcePlugin  Source = "plugin"  // loaded from a plugin manifest
)

// Runtime is how a tool call is dispatched.
type Runtime string

const (
	RuntimeBuiltin Runtime = "builtin"
	RuntimeBash    Runtime = "bash"
	RuntimePython  Runtime = "python"
	RuntimeWasm    Runtime = "wasm"
)

// Tool is the interface every registered tool implements, regardless of
// source or runtime.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Entry pairs a Tool with the registry metadata the Policy and the
// dry-run/validate endpoints need: which source registered it, what runtime
// dispatches it, which category it belongs to for category-level policy
// overrides, and its per-call timeout.
type Entry struct {
	Tool       Tool
	Source     Source
	Runtime    Runtime
	Category   string
	Policy     Decision // the definition's own policy tag; "" means no declaration
	Timeout    int      // seconds; 0 means the Turn Engine's configured default applies
	AuditFlags []string // non-blocking skill-file audit warnings, if any
}

// ToDefinition converts a Tool to the wire format sent to the backend.
func ToDefinition(t Tool) ToolDefinition {
	return ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.Schema(),
	}
}
