package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chatgate/chatgate/internal/errkind"
)

// WasmRunner is the boundary contract for the external WebAssembly runtime a
// wasm-tagged tool hands off to. The core never embeds a wasm engine itself;
// a deployment that wants wasm tools injects a runner at startup.
type WasmRunner interface {
	// Invoke loads the module at path and runs it with the JSON-encoded
	// arguments, returning its textual output.
	Invoke(ctx context.Context, path string, input json.RawMessage) (string, error)
}

// WasmTool dispatches a skill-file whose runtime is "wasm" to the configured
// WasmRunner. The skill-file's body is the module path, not script source.
type WasmTool struct {
	name        string
	description string
	schema      map[string]any
	modulePath  string
	runner      WasmRunner
	timeout     time.Duration
}

// NewWasmTool builds a wasm tool over runner; runner may be nil, in which
// case every call returns a diagnostic result instead of executing.
func NewWasmTool(name, description string, schema map[string]any, modulePath string, runner WasmRunner, timeout time.Duration) *WasmTool {
	return &WasmTool{
		name:        name,
		description: description,
		schema:      schema,
		modulePath:  modulePath,
		runner:      runner,
		timeout:     timeout,
	}
}

func (t *WasmTool) Name() string            { return t.name }
func (t *WasmTool) Description() string     { return t.description }
func (t *WasmTool) Schema() map[string]any  { return t.schema }

func (t *WasmTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	if t.runner == nil {
		return "", &errkind.ToolFailure{Tool: t.name, Kind: "unavailable", Message: "no WebAssembly runtime configured"}
	}

	timeout := t.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := t.runner.Invoke(ctx, t.modulePath, input)
	if err != nil {
		return "", &errkind.ToolFailure{Tool: t.name, Kind: "wasm_error", Message: err.Error()}
	}
	return out, nil
}
