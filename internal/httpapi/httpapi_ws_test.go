package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatgate/chatgate/internal/errkind"
	"github.com/chatgate/chatgate/internal/llm"
	"github.com/chatgate/chatgate/internal/stream"
	"github.com/chatgate/chatgate/internal/types"
	"github.com/chatgate/chatgate/internal/user"
)

// streamingStub emits its deltas one at a time before returning the
// assembled response, the way the real client does for a streamed call.
type streamingStub struct {
	deltas []string
	resp   *llm.Response
}

func (s *streamingStub) StreamMessage(ctx context.Context, model string, messages []types.Message, toolDefs []types.ToolDefinition, keepAlive string, onDelta func(string)) (*llm.Response, error) {
	for _, d := range s.deltas {
		if onDelta != nil {
			onDelta(d)
		}
	}
	return s.resp, nil
}

type downBackend struct{}

func (downBackend) StreamMessage(ctx context.Context, model string, messages []types.Message, toolDefs []types.ToolDefinition, keepAlive string, onDelta func(string)) (*llm.Response, error) {
	return nil, &errkind.BackendUnavailable{Reason: "connection refused"}
}

func dialWS(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	return websocket.DefaultDialer.Dial(url, nil)
}

func readEvent(t *testing.T, conn *websocket.Conn) stream.WSEvent {
	t.Helper()
	var ev stream.WSEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestWS_StreamedTurnFrameOrder(t *testing.T) {
	backend := &streamingStub{
		deltas: []string{"he", "ll", "o"},
		resp:   &llm.Response{Text: "hello", Usage: &llm.Usage{TotalTokens: 5}},
	}
	s, store := newTestServer(t, backend)

	mux := http.NewServeMux()
	s.routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, _, err := dialWS(t, srv, "web-user-alice")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "connected", readEvent(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "message", "content": "hello"}))

	assert.Equal(t, "start", readEvent(t, conn).Type)

	for _, want := range []string{"he", "ll", "o"} {
		ev := readEvent(t, conn)
		assert.Equal(t, "stream", ev.Type)
		assert.Equal(t, want, ev.Delta)
	}

	end := readEvent(t, conn)
	assert.Equal(t, "end", end.Type)
	require.NotNil(t, end.Message)
	assert.Equal(t, "hello", end.Message.Content)
	assert.Equal(t, 5, end.Message.Tokens)

	sessions, err := store.ListSessions(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, sessions, 1, "the web-user- token prefix must strip down to the bare user id")
}

func TestWS_RejectsMissingToken(t *testing.T) {
	s, _ := newTestServer(t, &streamingStub{})

	mux := http.NewServeMux()
	s.routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, resp, err := dialWS(t, srv, "")
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleChat_BackendOutageLeavesOnlyUserMessage(t *testing.T) {
	s, store := newTestServer(t, downBackend{})

	rec := doRequest(t, s, "POST", "/api/chat", []byte(`{"message":"ping"}`))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "SERVICE_UNAVAILABLE", env.Code)

	sessions, err := store.ListSessions(context.Background(), user.IDFromToken(testToken))
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	msgs, err := store.ListMessages(context.Background(), sessions[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "a failed turn must keep the user message so a retry composes a coherent history")
	assert.Equal(t, types.RoleUser, msgs[0].Role)
}
