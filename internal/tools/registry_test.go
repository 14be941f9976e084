package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/chatgate/chatgate/internal/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name string
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub tool for tests" }
func (s *stubTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (s *stubTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	return "ok", nil
}

func TestRegister_RejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&Entry{Tool: &stubTool{name: "ping"}, Source: SourceBuiltin, Runtime: RuntimeBuiltin})
	require.NoError(t, err)

	err = r.Register(&Entry{Tool: &stubTool{name: "ping"}, Source: SourceUser, Runtime: RuntimeBash})
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*errkind.DuplicateName))
}

func TestUnregister_RefusesBuiltins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Entry{Tool: &stubTool{name: "ping"}, Source: SourceBuiltin}))

	err := r.Unregister("ping")
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*errkind.Forbidden))
}

func TestUnregister_AllowsUserTools(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Entry{Tool: &stubTool{name: "greet"}, Source: SourceUser}))

	require.NoError(t, r.Unregister("greet"))
	assert.False(t, r.Has("greet"))
}

func TestReplace_RejectsCrossSourceShadowing(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Entry{Tool: &stubTool{name: "ping"}, Source: SourceBuiltin}))

	err := r.Replace(&Entry{Tool: &stubTool{name: "ping"}, Source: SourceUser})
	require.Error(t, err)
}

func TestPolicy_ElevatedToolDeniedUntilElevated(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Entry{Tool: &stubTool{name: "exec_shell"}, Source: SourceBuiltin, Category: "dangerous"}))

	policy := NewPolicy(r, map[string]string{"exec_shell": "elevated"}, nil)

	err := policy.Authorize("exec_shell", false)
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*errkind.PolicyDenied))

	assert.NoError(t, policy.Authorize("exec_shell", true))
}

func TestPolicy_UnknownToolIsNotFound(t *testing.T) {
	r := NewRegistry()
	policy := NewPolicy(r, nil, nil)

	err := policy.Authorize("nope", false)
	assert.ErrorAs(t, err, new(*errkind.NotFound))
}

func TestPolicy_DeclaredPolicyTagAppliesWithoutConfigOverride(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Entry{Tool: &stubTool{name: "deploy"}, Source: SourceUser, Policy: DecisionElevated}))

	policy := NewPolicy(r, nil, nil)

	err := policy.Authorize("deploy", false)
	assert.ErrorAs(t, err, new(*errkind.PolicyDenied))
	assert.NoError(t, policy.Authorize("deploy", true))
}

func TestPolicy_ConfigOverrideBeatsDeclaredPolicyTag(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Entry{Tool: &stubTool{name: "deploy"}, Source: SourceUser, Policy: DecisionElevated}))

	policy := NewPolicy(r, map[string]string{"deploy": "allow"}, nil)
	assert.NoError(t, policy.Authorize("deploy", false))
}

func TestPolicy_CategoryOverrideAppliesWithoutExplicitToolRule(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Entry{Tool: &stubTool{name: "rm_file"}, Source: SourceBuiltin, Category: "filesystem"}))

	policy := NewPolicy(r, nil, map[string]string{"filesystem": "deny"})
	err := policy.Authorize("rm_file", true)
	assert.ErrorAs(t, err, new(*errkind.PolicyDenied))
}
