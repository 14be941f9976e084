package tools

import "github.com/chatgate/chatgate/internal/errkind"

// Decision is the Tool Policy's verdict for a single tool call.
type Decision string

const (
	DecisionAllow    Decision = "allow"
	DecisionDeny     Decision = "deny"
	DecisionElevated Decision = "elevated" // allowed only for an elevated session
	DecisionUnknown  Decision = "unknown"  // tool not registered at all
)

// Policy resolves allow/deny/elevated decisions from per-tool and
// per-category overrides loaded from configuration, falling back to allow
// for any tool with no explicit rule.
type Policy struct {
	registry       *Registry
	toolPolicy     map[string]Decision
	categoryPolicy map[string]Decision
}

// NewPolicy builds a Policy against registry, with the given name->decision
// and category->decision override maps (as loaded from config.ToolsConfig).
func NewPolicy(registry *Registry, toolPolicy, categoryPolicy map[string]string) *Policy {
	return &Policy{
		registry:       registry,
		toolPolicy:     toDecisions(toolPolicy),
		categoryPolicy: toDecisions(categoryPolicy),
	}
}

func toDecisions(in map[string]string) map[string]Decision {
	out := make(map[string]Decision, len(in))
	for k, v := range in {
		out[k] = Decision(v)
	}
	return out
}

// Evaluate returns the decision for calling name given whether the
// requesting session has been elevated. Configuration overrides win over the
// definition's own policy tag: per-tool, then per-category, then the tag the
// tool was registered with, then allow.
func (p *Policy) Evaluate(name string, elevated bool) Decision {
	entry, ok := p.registry.Get(name)
	if !ok {
		return DecisionUnknown
	}

	decision, explicit := p.toolPolicy[name]
	if !explicit {
		decision, explicit = p.categoryPolicy[entry.Category]
	}
	if !explicit && entry.Policy != "" {
		decision, explicit = entry.Policy, true
	}
	if !explicit {
		decision = DecisionAllow
	}

	if decision == DecisionElevated && elevated {
		return DecisionAllow
	}
	return decision
}

// Authorize turns a Decision into an error, or nil if the call may proceed.
func (p *Policy) Authorize(name string, elevated bool) error {
	switch p.Evaluate(name, elevated) {
	case DecisionAllow:
		return nil
	case DecisionElevated:
		return &errkind.PolicyDenied{Tool: name, Reason: "requires an elevated session"}
	case DecisionUnknown:
		return &errkind.NotFound{Kind: "tool", ID: name}
	default:
		return &errkind.PolicyDenied{Tool: name, Reason: "denied by policy"}
	}
}
