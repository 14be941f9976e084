package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chatgate/chatgate/internal/config"
	"github.com/chatgate/chatgate/internal/llm"
	"github.com/chatgate/chatgate/internal/router"
	"github.com/chatgate/chatgate/internal/session"
	"github.com/chatgate/chatgate/internal/tools"
	"github.com/chatgate/chatgate/internal/turn"
	"github.com/chatgate/chatgate/internal/types"
	"github.com/chatgate/chatgate/internal/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	responses []*llm.Response
	calls     int
}

func (s *stubBackend) StreamMessage(ctx context.Context, model string, messages []types.Message, toolDefs []types.ToolDefinition, keepAlive string, onDelta func(string)) (*llm.Response, error) {
	resp := s.responses[s.calls]
	s.calls++
	if onDelta != nil && resp.Text != "" {
		onDelta(resp.Text)
	}
	return resp, nil
}

const testToken = "test-token"

func newTestServer(t *testing.T, backend llm.Provider) (*Server, session.Store) {
	t.Helper()
	return newTestServerScoped(t, backend, "per-sender")
}

func newTestServerScoped(t *testing.T, backend llm.Provider, scope string) (*Server, session.Store) {
	t.Helper()
	store := session.NewMemStore()
	mgr := session.NewManager()
	rtr := router.New(config.ModelsConfig{Primary: "primary", Code: "code", Fast: "fast"})
	cache := router.NewCachePolicy(config.CacheConfig{Strategy: "ram", MaxModels: 3})
	registry := tools.NewRegistry()
	policy := tools.NewPolicy(registry, nil, nil)
	engine := turn.New(store, mgr, rtr, cache, backend, registry, policy, config.TurnConfig{
		MaxIterations: 10, WallClockMs: 120_000, ToolTimeoutSecs: 5,
	})
	users := user.NewRegistry([]string{testToken, "web-user-alice"})
	modelsCfg := config.ModelsConfig{Primary: "primary", Code: "code", Fast: "fast"}
	sessionCfg := config.SessionConfig{Scope: scope, HistoryLimit: 50}
	s := New(":0", users, store, engine, registry, policy, rtr, cache, backend, modelsCfg, sessionCfg, t.TempDir())
	return s, store
}

func doRequestAs(t *testing.T, s *Server, token, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux := http.NewServeMux()
	s.routes(mux)
	mux.ServeHTTP(rec, req)
	return rec
}

func doRequest(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	mux := http.NewServeMux()
	s.routes(mux)
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleChat_SimpleTurnReturnsTotalTokenUsage(t *testing.T) {
	backend := &stubBackend{responses: []*llm.Response{{
		Text:  "hello there",
		Usage: &llm.Usage{TotalTokens: 3},
	}}}
	s, store := newTestServer(t, backend)

	rec := doRequest(t, s, "POST", "/api/chat", []byte(`{"message":"hi"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "success", env.Status)

	sessions, err := store.ListSessions(context.Background(), user.IDFromToken(testToken))
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	msgs, err := store.ListMessages(context.Background(), sessions[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	assert.Equal(t, 3, msgs[1].Tokens, "assistant message token count must come from the backend's total_tokens, not completion_tokens")
}

func TestHandleChat_RejectsEmptyMessage(t *testing.T) {
	s, _ := newTestServer(t, &stubBackend{})
	rec := doRequest(t, s, "POST", "/api/chat", []byte(`{"message":""}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChat_RejectsMissingToken(t *testing.T) {
	s, _ := newTestServer(t, &stubBackend{})
	req := httptest.NewRequest("POST", "/api/chat", bytes.NewReader([]byte(`{"message":"hi"}`)))
	rec := httptest.NewRecorder()
	mux := http.NewServeMux()
	s.routes(mux)
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleChat_MainScopeSharesOneSessionAcrossUsers(t *testing.T) {
	backend := &stubBackend{responses: []*llm.Response{{Text: "a"}, {Text: "b"}}}
	s, store := newTestServerScoped(t, backend, "main")

	rec := doRequestAs(t, s, testToken, "POST", "/api/chat", []byte(`{"message":"hi"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequestAs(t, s, "web-user-alice", "POST", "/api/chat", []byte(`{"message":"hello"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	sessions, err := store.ListSessions(context.Background(), session.ScopeMain)
	require.NoError(t, err)
	require.Len(t, sessions, 1, "main scope folds every caller onto one session")

	msgs, err := store.ListMessages(context.Background(), sessions[0].ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestHandleChat_SessionIDTargetsExistingSession(t *testing.T) {
	backend := &stubBackend{responses: []*llm.Response{{Text: "pong"}}}
	s, store := newTestServer(t, backend)

	rec := doRequest(t, s, "POST", "/api/sessions", []byte(`{"scope":"per-peer"}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var created sessionPayload
	require.NoError(t, json.Unmarshal(data, &created))

	body := []byte(`{"message":"ping","session_id":"` + created.ID + `"}`)
	rec = doRequest(t, s, "POST", "/api/chat", body)
	require.Equal(t, http.StatusOK, rec.Code)

	msgs, err := store.ListMessages(context.Background(), created.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "the turn must land in the targeted session")
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
}

func TestHandleChat_SessionIDOfAnotherUserIsForbidden(t *testing.T) {
	s, _ := newTestServer(t, &stubBackend{})

	rec := doRequestAs(t, s, "web-user-alice", "POST", "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var created sessionPayload
	require.NoError(t, json.Unmarshal(data, &created))

	body := []byte(`{"message":"ping","session_id":"` + created.ID + `"}`)
	rec = doRequest(t, s, "POST", "/api/chat", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleListMessages_LimitZeroReturnsNoMessages(t *testing.T) {
	backend := &stubBackend{responses: []*llm.Response{{Text: "hi", Usage: &llm.Usage{TotalTokens: 1}}}}
	s, _ := newTestServer(t, backend)

	rec := doRequest(t, s, "POST", "/api/chat", []byte(`{"message":"hi"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, "GET", "/api/messages?limit=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var list messageListData
	require.NoError(t, json.Unmarshal(data, &list))

	assert.Equal(t, 2, list.Total)
	assert.Empty(t, list.Messages)
}

func TestHandleListMessages_AbsentLimitDefaultsTo50(t *testing.T) {
	backend := &stubBackend{}
	for i := 0; i < 3; i++ {
		backend.responses = append(backend.responses, &llm.Response{Text: "hi"})
	}
	s, _ := newTestServer(t, backend)

	for i := 0; i < 3; i++ {
		rec := doRequest(t, s, "POST", "/api/chat", []byte(`{"message":"hi"}`))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(t, s, "GET", "/api/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var list messageListData
	require.NoError(t, json.Unmarshal(data, &list))

	assert.Equal(t, 6, list.Total)
	assert.Len(t, list.Messages, 6, "total is below the default limit of 50, so every message should come back")
}

func TestHandleListMessages_LimitOverMaxFallsBackToDefault(t *testing.T) {
	backend := &stubBackend{responses: []*llm.Response{{Text: "hi"}}}
	s, _ := newTestServer(t, backend)

	rec := doRequest(t, s, "POST", "/api/chat", []byte(`{"message":"hi"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, "GET", "/api/messages?limit=501", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var list messageListData
	require.NoError(t, json.Unmarshal(data, &list))

	assert.Equal(t, 2, list.Total)
	assert.Len(t, list.Messages, 2)
}
