package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/chatgate/chatgate/internal/errkind"
)

// ReadFileTool is a built-in tool exposing read-only workspace file access.
type ReadFileTool struct {
	baseDir string
}

// NewReadFileTool builds a read tool rooted at baseDir; paths outside it are
// rejected.
func NewReadFileTool(baseDir string) *ReadFileTool {
	return &ReadFileTool{baseDir: baseDir}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file in the workspace." }

func (t *ReadFileTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file, relative to the workspace root.",
			},
		},
		"required": []string{"path"},
	}
}

type readFileInput struct {
	Path string `json:"path"`
}

func (t *ReadFileTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params readFileInput
	if err := json.Unmarshal(input, &params); err != nil {
		return "", &errkind.ToolFailure{Tool: t.Name(), Kind: "invalid_input", Message: err.Error()}
	}

	full := filepath.Join(t.baseDir, filepath.Clean("/"+params.Path))
	if !isWithin(t.baseDir, full) {
		return "", &errkind.ToolFailure{Tool: t.Name(), Kind: "invalid_path", Message: "path " + params.Path + " escapes the workspace"}
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", &errkind.ToolFailure{Tool: t.Name(), Kind: "io_error", Message: err.Error()}
	}
	return string(data), nil
}

func isWithin(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !hasParentPrefix(rel)
}

func hasParentPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
