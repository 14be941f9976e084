// Package skillfile parses and watches the user-authored tool directory:
// each tool is a single file with a "---"-delimited YAML
// frontmatter block followed by the script body the frontmatter's runtime
// executes.
package skillfile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter is the declared shape of a skill-file's metadata block.
type Frontmatter struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Runtime     string         `yaml:"runtime"` // "bash" | "python" | "wasm"
	Parameters  map[string]any `yaml:"parameters"`
	Policy      string         `yaml:"policy"` // "allow" | "deny" | "elevated", optional
	Category    string         `yaml:"category"`
	Sandbox     bool           `yaml:"sandbox"`
	Network     bool           `yaml:"network"`
	TimeoutSecs int            `yaml:"timeout_secs"`
}

// File is a parsed skill-file: its metadata plus the script body to run.
type File struct {
	Frontmatter
	Body string
	Path string
}

const delimiter = "---"

// Parse splits a skill-file's raw contents into frontmatter and body.
// Malformed YAML is surfaced as an error rather than silently ignored — a
// broken skill-file should fail loudly at load time, not at tool-call time.
func Parse(path string, raw []byte) (*File, error) {
	text := string(raw)
	lines := strings.Split(text, "\n")

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != delimiter {
		return nil, fmt.Errorf("skillfile: %s: missing frontmatter opening %q", path, delimiter)
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delimiter {
			end = i
			break
		}
	}
	if end == -1 {
		return nil, fmt.Errorf("skillfile: %s: missing frontmatter closing %q", path, delimiter)
	}

	fmBlock := strings.Join(lines[1:end], "\n")
	body := strings.Join(lines[end+1:], "\n")

	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(fmBlock), &fm); err != nil {
		return nil, fmt.Errorf("skillfile: %s: invalid frontmatter: %w", path, err)
	}
	if fm.Name == "" {
		return nil, fmt.Errorf("skillfile: %s: frontmatter missing required field %q", path, "name")
	}
	if fm.Runtime == "" {
		fm.Runtime = "bash"
	}

	return &File{Frontmatter: fm, Body: strings.TrimLeft(body, "\n"), Path: path}, nil
}

// ParseFile reads and parses a single skill-file from disk.
func ParseFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("skillfile: read %s: %w", path, err)
	}
	return Parse(path, raw)
}

// JSONSchema converts the frontmatter's declared parameters into the JSON
// Schema object the Backend Client dialect and the Tool Registry expect. The
// canonical form is a full schema object ({type, properties, required}); a
// flat name->spec map with per-parameter "required" booleans is accepted as
// shorthand.
func (f *File) JSONSchema() map[string]any {
	if _, ok := f.Parameters["properties"]; ok {
		schema := make(map[string]any, len(f.Parameters)+1)
		for k, v := range f.Parameters {
			schema[k] = v
		}
		if _, ok := schema["type"]; !ok {
			schema["type"] = "object"
		}
		return schema
	}

	properties := make(map[string]any, len(f.Parameters))
	var required []any

	for name, spec := range f.Parameters {
		specMap, ok := spec.(map[string]any)
		if !ok {
			properties[name] = map[string]any{"type": "string"}
			continue
		}
		properties[name] = specMap
		if req, _ := specMap["required"].(bool); req {
			required = append(required, name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
