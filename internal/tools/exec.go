package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chatgate/chatgate/internal/errkind"
	. "github.com/chatgate/chatgate/internal/logging"
)

// ShellTool runs a skill-file-authored script under bash or python. The
// JSON Schema's declared parameters are passed to the script as environment
// variables named identically to their schema keys; the script reads $text
// rather than parsing a shell line, so schema-declared arguments can't be
// reinterpreted by the shell.
type ShellTool struct {
	name        string
	description string
	schema      map[string]any
	runtime     Runtime // RuntimeBash | RuntimePython
	script      string  // script body, passed to the interpreter's -c flag
	workingDir  string
	timeout     time.Duration
}

// NewShellTool builds a skill-file tool that runs script under runtime,
// passing schema-declared parameters as environment variables.
func NewShellTool(name, description string, schema map[string]any, runtime Runtime, script, workingDir string, timeout time.Duration) *ShellTool {
	return &ShellTool{
		name:        name,
		description: description,
		schema:      schema,
		runtime:     runtime,
		script:      script,
		workingDir:  workingDir,
		timeout:     timeout,
	}
}

func (t *ShellTool) Name() string           { return t.name }
func (t *ShellTool) Description() string    { return t.description }
func (t *ShellTool) Schema() map[string]any { return t.schema }

// Script returns the tool's raw script body and declared runtime, so the
// validate endpoint can run a syntax-only dry pass without executing it.
func (t *ShellTool) Script() (string, Runtime) { return t.script, t.runtime }

func (t *ShellTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &params); err != nil {
			return "", &errkind.ToolFailure{Tool: t.name, Kind: "invalid_input", Message: err.Error()}
		}
	}

	envPairs, err := envFromParams(t.schema, params)
	if err != nil {
		return "", &errkind.ToolFailure{Tool: t.name, Kind: "invalid_input", Message: err.Error()}
	}

	timeout := t.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var interpreter string
	switch t.runtime {
	case RuntimeBash:
		interpreter = "bash"
	case RuntimePython:
		interpreter = "python3"
	default:
		return "", &errkind.ToolFailure{Tool: t.name, Kind: "unsupported_runtime", Message: string(t.runtime)}
	}

	cmd := exec.CommandContext(ctx, interpreter, "-c", t.script)
	cmd.Dir = t.workingDir
	cmd.Env = append(os.Environ(), envPairs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	L_info("tool: running", "name", t.name, "runtime", t.runtime)
	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	var result strings.Builder
	if stdout.Len() > 0 {
		result.WriteString(stdout.String())
	}
	if stderr.Len() > 0 {
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		result.WriteString("STDERR:\n")
		result.WriteString(stderr.String())
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			L_warn("tool: timed out", "name", t.name, "timeout", timeout)
			return result.String(), fmt.Errorf("tool %q timed out after %v", t.name, timeout)
		}
		L_warn("tool: failed", "name", t.name, "error", err, "elapsed", elapsed)
		message := strings.TrimSpace(result.String())
		if message == "" {
			message = err.Error()
		}
		return "", &errkind.ToolFailure{Tool: t.name, Kind: "exit_error", Message: message}
	}

	L_debug("tool: completed", "name", t.name, "elapsed", elapsed)
	if result.Len() == 0 {
		result.WriteString("(no output)")
	}
	return result.String(), nil
}

// envFromParams maps each JSON-Schema-declared property to an environment
// variable named identically to the parameter key: a parameter
// "text" becomes $text in the script's environment.
func envFromParams(schema map[string]any, params map[string]any) ([]string, error) {
	props, _ := schema["properties"].(map[string]any)
	var required []string
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	var env []string
	for _, name := range names {
		val, present := params[name]
		if !present {
			for _, r := range required {
				if r == name {
					return nil, fmt.Errorf("missing required parameter %q", name)
				}
			}
			continue
		}
		env = append(env, name+"="+stringifyParam(val))
	}
	return env, nil
}

func stringifyParam(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}
