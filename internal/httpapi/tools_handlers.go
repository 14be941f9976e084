package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"github.com/chatgate/chatgate/internal/errkind"
	. "github.com/chatgate/chatgate/internal/logging"
	"github.com/chatgate/chatgate/internal/tools"
	"github.com/chatgate/chatgate/internal/tools/skillfile"
	"gopkg.in/yaml.v3"
)

// toolRequest is the wire shape for POST /api/tools and PUT /api/tools/:name:
// it mirrors a skill-file's frontmatter plus its script body, so the API and
// the on-disk format stay in lockstep.
type toolRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Runtime     string         `json:"runtime"`
	Parameters  map[string]any `json:"parameters"`
	Policy      string         `json:"policy"`
	Category    string         `json:"category"`
	Sandbox     bool           `json:"sandbox"`
	Network     bool           `json:"network"`
	TimeoutSecs int            `json:"timeout_secs"`
	Script      string         `json:"script"`
}

var toolNameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

const (
	minToolTimeoutSecs = 1
	maxToolTimeoutSecs = 3600
)

// validateToolRequest enforces the tool-definition bounds: name charset and
// length, a known runtime, and a timeout within 1..3600 seconds.
func validateToolRequest(req *toolRequest) error {
	if !toolNameRE.MatchString(req.Name) {
		return &errkind.Validation{Reason: "tool name must match [A-Za-z0-9_-]{1,100}"}
	}
	switch req.Runtime {
	case "", "bash", "python", "wasm":
	default:
		return &errkind.Validation{Reason: "runtime must be bash, python, or wasm"}
	}
	switch req.Policy {
	case "", "allow", "deny", "elevated":
	default:
		return &errkind.Validation{Reason: "policy must be allow, deny, or elevated"}
	}
	if req.TimeoutSecs < minToolTimeoutSecs || req.TimeoutSecs > maxToolTimeoutSecs {
		return &errkind.Validation{Reason: "timeout_secs must be between 1 and 3600"}
	}
	return nil
}

type toolPayload struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Source      string         `json:"source"`
	Runtime     string         `json:"runtime"`
	Category    string         `json:"category"`
	Schema      map[string]any `json:"schema"`
	Policy      string         `json:"policy"`
	AuditFlags  []string       `json:"audit_flags,omitempty"`
}

func (s *Server) toolPayload(name string, entry *tools.Entry, elevated bool) toolPayload {
	return toolPayload{
		Name:        name,
		Description: entry.Tool.Description(),
		Source:      string(entry.Source),
		Runtime:     string(entry.Runtime),
		Category:    entry.Category,
		Schema:      entry.Tool.Schema(),
		Policy:      string(s.policy.Evaluate(name, elevated)),
		AuditFlags:  entry.AuditFlags,
	}
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	names := s.registry.List()
	out := make([]toolPayload, 0, len(names))
	for _, name := range names {
		entry, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		out = append(out, s.toolPayload(name, entry, false))
	}
	writeSuccess(w, http.StatusOK, out)
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	entry, ok := s.registry.Get(name)
	if !ok {
		writeError(w, &errkind.NotFound{Kind: "tool", ID: name})
		return
	}
	writeSuccess(w, http.StatusOK, s.toolPayload(name, entry, false))
}

// handleCreateTool registers a new user tool from a skill-file-shaped
// request body and persists it to the user-tool directory, so a restart
// reloads it the same way the Watcher would pick up a hand-edited file.
func (s *Server) handleCreateTool(w http.ResponseWriter, r *http.Request) {
	var req toolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &errkind.Validation{Reason: "malformed JSON body"})
		return
	}
	if req.Script == "" {
		writeError(w, &errkind.Validation{Reason: "script is required"})
		return
	}
	if err := validateToolRequest(&req); err != nil {
		writeError(w, err)
		return
	}
	if s.registry.Has(req.Name) {
		writeError(w, &errkind.DuplicateName{Name: req.Name})
		return
	}

	entry, path, err := s.buildAndPersist(req, false)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.registry.Register(entry); err != nil {
		os.Remove(path)
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, s.toolPayload(req.Name, entry, false))
}

func (s *Server) handleReplaceTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	existing, ok := s.registry.Get(name)
	if !ok {
		writeError(w, &errkind.NotFound{Kind: "tool", ID: name})
		return
	}
	if existing.Source == tools.SourceBuiltin {
		writeError(w, &errkind.Forbidden{Reason: "built-in tools cannot be replaced"})
		return
	}

	var req toolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &errkind.Validation{Reason: "malformed JSON body"})
		return
	}
	req.Name = name
	if err := validateToolRequest(&req); err != nil {
		writeError(w, err)
		return
	}

	entry, _, err := s.buildAndPersist(req, true)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.registry.Replace(entry); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, s.toolPayload(name, entry, false))
}

func (s *Server) handleDeleteTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := s.registry.Unregister(name); err != nil {
		writeError(w, err)
		return
	}
	if err := os.Remove(s.skillfilePath(name)); err != nil && !os.IsNotExist(err) {
		L_warn("httpapi: failed to remove skill-file from disk", "name", name, "error", err)
	}
	writeNoContent(w)
}

type toolTestRequest struct {
	Parameters map[string]any `json:"parameters"`
}

type toolTestResult struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// handleTestTool dry-runs a registered tool against caller-supplied
// parameters and reports its output, for a skill-file author to check their
// script before trusting it inside a real turn.
func (s *Server) handleTestTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.registry.Has(name) {
		writeError(w, &errkind.NotFound{Kind: "tool", ID: name})
		return
	}

	var req toolTestRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	input, err := json.Marshal(req.Parameters)
	if err != nil {
		writeError(w, &errkind.Validation{Reason: "parameters must be a JSON object"})
		return
	}

	out, execErr := s.registry.Execute(r.Context(), name, input)
	result := toolTestResult{Output: out}
	if execErr != nil {
		result.Error = execErr.Error()
	}
	writeSuccess(w, http.StatusOK, result)
}

type toolValidateRequest struct {
	CheckSyntax     bool           `json:"check_syntax"`
	CheckParameters bool           `json:"check_parameters"`
	Parameters      map[string]any `json:"parameters"`
}

type toolValidateResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// handleValidateTool checks a registered tool's schema (and, optionally, a
// sample parameter set) without executing it.
func (s *Server) handleValidateTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	entry, ok := s.registry.Get(name)
	if !ok {
		writeError(w, &errkind.NotFound{Kind: "tool", ID: name})
		return
	}

	var req toolValidateRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	var errs []string
	schema := entry.Tool.Schema()

	if req.CheckSyntax {
		if _, ok := schema["type"]; !ok {
			errs = append(errs, "schema missing \"type\"")
		}
		if scripted, ok := entry.Tool.(interface{ Script() (string, tools.Runtime) }); ok {
			script, runtime := scripted.Script()
			if syntaxErr := checkScriptSyntax(r.Context(), runtime, script); syntaxErr != "" {
				errs = append(errs, syntaxErr)
			}
		}
	}
	if req.CheckParameters {
		errs = append(errs, validateAgainstSchema(schema, req.Parameters)...)
	}

	writeSuccess(w, http.StatusOK, toolValidateResult{Valid: len(errs) == 0, Errors: errs})
}

// checkScriptSyntax runs a syntax-only dry pass over a skill-file's script
// body, without executing it: "bash -n" for bash, "python3 -m py_compile"
// (fed a temp file, since py_compile takes a path, not stdin) for python.
// Other runtimes have nothing to dry-parse and are skipped.
func checkScriptSyntax(ctx context.Context, runtime tools.Runtime, script string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	switch runtime {
	case tools.RuntimeBash:
		cmd := exec.CommandContext(ctx, "bash", "-n", "-c", script)
		if out, err := cmd.CombinedOutput(); err != nil {
			return "bash syntax error: " + string(out)
		}
	case tools.RuntimePython:
		tmp, err := os.CreateTemp("", "chatgate-skill-*.py")
		if err != nil {
			return "could not create temp file for syntax check: " + err.Error()
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.WriteString(script); err != nil {
			tmp.Close()
			return "could not write temp file for syntax check: " + err.Error()
		}
		tmp.Close()

		cmd := exec.CommandContext(ctx, "python3", "-m", "py_compile", tmp.Name())
		if out, err := cmd.CombinedOutput(); err != nil {
			return "python syntax error: " + string(out)
		}
	}
	return ""
}

func validateAgainstSchema(schema map[string]any, params map[string]any) []string {
	var errs []string
	required, _ := schema["required"].([]any)
	for _, r := range required {
		name, ok := r.(string)
		if !ok {
			continue
		}
		if _, present := params[name]; !present {
			errs = append(errs, "missing required parameter \""+name+"\"")
		}
	}
	return errs
}

func (s *Server) handleToolDefinition(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	entry, ok := s.registry.Get(name)
	if !ok {
		writeError(w, &errkind.NotFound{Kind: "tool", ID: name})
		return
	}
	writeSuccess(w, http.StatusOK, tools.ToDefinition(entry.Tool))
}

func (s *Server) handleAllToolDefinitions(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, s.registry.Definitions())
}

func (s *Server) skillfilePath(name string) string {
	return filepath.Join(s.toolDir, name+".skill")
}

// buildAndPersist turns a toolRequest into a registry Entry and writes the
// equivalent skill-file to disk, the same shape the Watcher loads at boot.
func (s *Server) buildAndPersist(req toolRequest, overwrite bool) (*tools.Entry, string, error) {
	runtime := req.Runtime
	if runtime == "" {
		runtime = "bash"
	}

	fm := skillfile.Frontmatter{
		Name:        req.Name,
		Description: req.Description,
		Runtime:     runtime,
		Parameters:  req.Parameters,
		Policy:      req.Policy,
		Category:    req.Category,
		Sandbox:     req.Sandbox,
		Network:     req.Network,
		TimeoutSecs: req.TimeoutSecs,
	}

	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return nil, "", &errkind.Validation{Reason: "could not encode frontmatter: " + err.Error()}
	}

	var doc []byte
	doc = append(doc, []byte("---\n")...)
	doc = append(doc, fmBytes...)
	doc = append(doc, []byte("---\n")...)
	doc = append(doc, []byte(req.Script)...)

	path := s.skillfilePath(req.Name)
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, "", &errkind.Validation{Reason: "could not persist skill-file: " + err.Error()}
	}
	defer f.Close()
	if _, err := f.Write(doc); err != nil {
		return nil, "", &errkind.Validation{Reason: "could not persist skill-file: " + err.Error()}
	}

	parsed, err := skillfile.Parse(path, doc)
	if err != nil {
		return nil, "", &errkind.Validation{Reason: err.Error()}
	}

	timeout := time.Duration(parsed.TimeoutSecs) * time.Second
	var tool tools.Tool
	if tools.Runtime(parsed.Runtime) == tools.RuntimeWasm {
		tool = tools.NewWasmTool(parsed.Name, parsed.Description, parsed.JSONSchema(), parsed.Body, nil, timeout)
	} else {
		tool = tools.NewShellTool(parsed.Name, parsed.Description, parsed.JSONSchema(), tools.Runtime(parsed.Runtime), parsed.Body, s.toolDir, timeout)
	}

	entry := &tools.Entry{
		Tool:       tool,
		Source:     tools.SourceUser,
		Runtime:    tools.Runtime(parsed.Runtime),
		Category:   parsed.Category,
		Policy:     tools.Decision(parsed.Policy),
		Timeout:    parsed.TimeoutSecs,
		AuditFlags: skillfile.Audit(parsed.Body),
	}
	return entry, path, nil
}
