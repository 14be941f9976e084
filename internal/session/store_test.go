package session

import (
	"context"
	"testing"

	"github.com/chatgate/chatgate/internal/errkind"
	"github.com/chatgate/chatgate/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateSession_Idempotent(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	a, err := store.GetOrCreateSession(ctx, "alice", "web", "per-sender")
	require.NoError(t, err)

	b, err := store.GetOrCreateSession(ctx, "alice", "web", "per-sender")
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
}

func TestGetOrCreateSession_MainScopeIgnoresUser(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	a, err := store.GetOrCreateSession(ctx, EffectiveUser("alice", "main"), "web", "main")
	require.NoError(t, err)

	b, err := store.GetOrCreateSession(ctx, EffectiveUser("bob", "main"), "web", "main")
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
}

func TestAppendAndListMessages_ChronologicalOrder(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	rec, err := store.GetOrCreateSession(ctx, "alice", "web", "per-sender")
	require.NoError(t, err)

	_, err = store.AppendMessage(ctx, rec.ID, types.RoleUser, "hello", "", "", "", 0)
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, rec.ID, types.RoleAssistant, "hi there", "primary", "", "", 3)
	require.NoError(t, err)

	msgs, err := store.ListMessages(ctx, rec.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "primary", msgs[1].ModelUsed)
}

func TestListMessages_RespectsLimit(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	rec, err := store.GetOrCreateSession(ctx, "alice", "web", "per-sender")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := store.AppendMessage(ctx, rec.ID, types.RoleUser, "msg", "", "", "", 0)
		require.NoError(t, err)
	}

	msgs, err := store.ListMessages(ctx, rec.ID, 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestAppendMessage_UnknownSessionIsNotFound(t *testing.T) {
	store := NewMemStore()
	_, err := store.AppendMessage(context.Background(), "missing", types.RoleUser, "x", "", "", "", 0)
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*errkind.NotFound))
}

func TestDeleteSession_ForbidsOtherOwner(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	rec, err := store.GetOrCreateSession(ctx, "alice", "web", "per-sender")
	require.NoError(t, err)

	err = store.DeleteSession(ctx, rec.ID, "bob")
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*errkind.Forbidden))

	err = store.DeleteSession(ctx, rec.ID, "alice")
	require.NoError(t, err)

	_, err = store.GetSession(ctx, rec.ID)
	assert.ErrorAs(t, err, new(*errkind.NotFound))
}

func TestWorkingSession_ElevationIsPerSession(t *testing.T) {
	mgr := NewManager()
	rec := Record{ID: "s1", UserID: "alice", Channel: "web", Scope: "per-sender"}

	w := mgr.Get(rec)
	assert.False(t, w.IsElevated())

	w.Elevate()
	assert.True(t, w.IsElevated())

	same := mgr.Get(rec)
	assert.True(t, same.IsElevated(), "elevation must persist for the lifetime of the session")
}
