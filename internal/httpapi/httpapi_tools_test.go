package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolBody(name string, timeoutSecs int) []byte {
	body := map[string]any{
		"name":        name,
		"description": "echoes its input",
		"runtime":     "bash",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []string{"text"},
		},
		"policy":       "allow",
		"timeout_secs": timeoutSecs,
		"script":       `printf '%s' "$text"`,
	}
	b, _ := json.Marshal(body)
	return b
}

func TestCreateTool_RoundTripsThroughGet(t *testing.T) {
	s, _ := newTestServer(t, &stubBackend{})

	rec := doRequest(t, s, "POST", "/api/tools", toolBody("echo", 10))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, "GET", "/api/tools/echo", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var payload toolPayload
	require.NoError(t, json.Unmarshal(data, &payload))

	assert.Equal(t, "echo", payload.Name)
	assert.Equal(t, "bash", payload.Runtime)
	assert.Equal(t, "user", payload.Source)
	assert.Equal(t, "allow", payload.Policy)

	props, ok := payload.Schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "text")
}

func TestCreateTool_RejectsInvalidName(t *testing.T) {
	s, _ := newTestServer(t, &stubBackend{})

	for _, name := range []string{"", "bad name", "semi;colon"} {
		rec := doRequest(t, s, "POST", "/api/tools", toolBody(name, 10))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "name %q should be rejected", name)
	}

	long := ""
	for i := 0; i < 101; i++ {
		long += "a"
	}
	rec := doRequest(t, s, "POST", "/api/tools", toolBody(long, 10))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a 101-character name should be rejected")
}

func TestCreateTool_RejectsOutOfRangeTimeout(t *testing.T) {
	s, _ := newTestServer(t, &stubBackend{})

	for _, secs := range []int{0, 3601} {
		rec := doRequest(t, s, "POST", "/api/tools", toolBody(fmt.Sprintf("t%d", secs), secs))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "timeout_secs %d should be rejected", secs)
	}

	rec := doRequest(t, s, "POST", "/api/tools", toolBody("edge", 3600))
	assert.Equal(t, http.StatusCreated, rec.Code, "timeout_secs 3600 is the inclusive upper bound")
}

func TestCreateTool_RejectsDuplicateName(t *testing.T) {
	s, _ := newTestServer(t, &stubBackend{})

	rec := doRequest(t, s, "POST", "/api/tools", toolBody("echo", 10))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, "POST", "/api/tools", toolBody("echo", 10))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteTool_RemovesFromRegistry(t *testing.T) {
	s, _ := newTestServer(t, &stubBackend{})

	rec := doRequest(t, s, "POST", "/api/tools", toolBody("echo", 10))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, "DELETE", "/api/tools/echo", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, s, "GET", "/api/tools/echo", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
