// Package errkind defines the typed errors the core distinguishes: small
// structs with an Error() method, checked via errors.As rather than
// string-matching.
package errkind

import "fmt"

// NotFound indicates an unknown session, message, or tool.
type NotFound struct {
	Kind string // "session" | "message" | "tool" | "model"
	ID   string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// DuplicateName indicates a tool registration whose name already exists.
type DuplicateName struct {
	Name string
}

func (e *DuplicateName) Error() string {
	return fmt.Sprintf("duplicate tool name: %s", e.Name)
}

// Forbidden indicates cross-user access to a resource.
type Forbidden struct {
	Reason string
}

func (e *Forbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// Validation indicates a malformed or out-of-bounds request.
type Validation struct {
	Reason string
}

func (e *Validation) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Reason)
}

// BackendUnavailable indicates the Backend Client reported a connection or
// 5xx failure, or a malformed response (protocol violation is the same path).
type BackendUnavailable struct {
	Reason string
}

func (e *BackendUnavailable) Error() string {
	return fmt.Sprintf("backend unavailable: %s", e.Reason)
}

// PolicyDenied indicates the Tool Policy refused to run a tool.
type PolicyDenied struct {
	Tool   string
	Reason string
}

func (e *PolicyDenied) Error() string {
	return fmt.Sprintf("Tool %s denied: %s", e.Tool, e.Reason)
}

// ToolFailure renders the literal diagnostic a failed tool call's executor
// returns as a tool-role message: "Tool <name> failed: <kind>: <message>".
type ToolFailure struct {
	Tool    string
	Kind    string
	Message string
}

func (e *ToolFailure) Error() string {
	return fmt.Sprintf("Tool %s failed: %s: %s", e.Tool, e.Kind, e.Message)
}

// Timeout indicates a tool call or turn exceeded its bound.
type Timeout struct {
	What string
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("%s timed out", e.What)
}
