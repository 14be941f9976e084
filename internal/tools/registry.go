package tools

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chatgate/chatgate/internal/errkind"
)

// Registry holds every tool the Turn Engine can offer the model: built-ins
// compiled into the binary, user-authored skill-file tools, and plugin
// tools. Reads (Get/List/Definitions, once per turn and once per tool call)
// never block on writers: the live table is an atomic pointer to an
// immutable map, swapped wholesale under a single writer mutex so that
// concurrent Register/Unregister calls serialize without making readers
// wait for a lock.
type Registry struct {
	writeMu sync.Mutex
	table   atomic.Pointer[map[string]*Entry]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string]*Entry)
	r.table.Store(&empty)
	return r
}

func (r *Registry) snapshot() map[string]*Entry {
	return *r.table.Load()
}

// Register adds a tool under the given source/runtime/category. It fails
// with *errkind.DuplicateName if a tool with that name is already
// registered, regardless of source — the registry is a single flat
// namespace.
func (r *Registry) Register(entry *Entry) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := r.snapshot()
	name := entry.Tool.Name()
	if _, exists := current[name]; exists {
		return &errkind.DuplicateName{Name: name}
	}

	next := make(map[string]*Entry, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[name] = entry
	r.table.Store(&next)
	return nil
}

// Replace atomically re-registers a tool under the same name, used when a
// skill-file is reloaded after a watched edit. It bypasses the duplicate
// check Register enforces, but only for tools whose existing entry has the
// same Source — a user-authored reload can't silently shadow a built-in.
func (r *Registry) Replace(entry *Entry) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := r.snapshot()
	name := entry.Tool.Name()
	if existing, exists := current[name]; exists && existing.Source != entry.Source {
		return &errkind.DuplicateName{Name: name}
	}

	next := make(map[string]*Entry, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[name] = entry
	r.table.Store(&next)
	return nil
}

// Unregister removes a tool. Only SourceUser and SourcePlugin tools may be
// unregistered at runtime; built-ins are fixed for the process lifetime.
func (r *Registry) Unregister(name string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := r.snapshot()
	entry, exists := current[name]
	if !exists {
		return &errkind.NotFound{Kind: "tool", ID: name}
	}
	if entry.Source == SourceBuiltin {
		return &errkind.Forbidden{Reason: "built-in tools cannot be unregistered"}
	}

	next := make(map[string]*Entry, len(current))
	for k, v := range current {
		if k != name {
			next[k] = v
		}
	}
	r.table.Store(&next)
	return nil
}

// Get returns a tool's entry by name.
func (r *Registry) Get(name string) (*Entry, bool) {
	entry, ok := r.snapshot()[name]
	return entry, ok
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.snapshot()[name]
	return ok
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	current := r.snapshot()
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns every registered tool's wire definition, for handing
// to the Backend Client as the visible tool set for a turn.
func (r *Registry) Definitions() []ToolDefinition {
	current := r.snapshot()
	defs := make([]ToolDefinition, 0, len(current))
	for _, entry := range current {
		defs = append(defs, ToDefinition(entry.Tool))
	}
	return defs
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	return len(r.snapshot())
}

// Execute runs a tool by name, independent of Policy — callers that need
// policy enforcement should consult Policy before calling Execute.
func (r *Registry) Execute(ctx context.Context, name string, input []byte) (string, error) {
	entry, ok := r.Get(name)
	if !ok {
		return "", &errkind.NotFound{Kind: "tool", ID: name}
	}
	return entry.Tool.Execute(ctx, input)
}

// BuildToolSummary renders a human-readable listing of every registered
// tool, one line per name in sorted order. Nothing in the gateway calls it.
func (r *Registry) BuildToolSummary() string {
	current := r.snapshot()
	if len(current) == 0 {
		return ""
	}

	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("## Available Tools\n")
	for _, name := range names {
		sb.WriteString("- ")
		sb.WriteString(name)
		sb.WriteString(": ")
		sb.WriteString(truncateDescription(current[name].Tool.Description(), 100))
		sb.WriteString("\n")
	}
	return sb.String()
}

func truncateDescription(desc string, maxLen int) string {
	if idx := strings.Index(desc, ". "); idx > 0 && idx < maxLen {
		return desc[:idx+1]
	}
	if len(desc) <= maxLen {
		return desc
	}
	truncated := desc[:maxLen]
	if idx := strings.LastIndex(truncated, " "); idx > maxLen/2 {
		truncated = truncated[:idx]
	}
	return truncated + "..."
}
