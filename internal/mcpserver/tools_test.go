package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dylanneve1/agent-bridge/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "content = %T", result.Content[0])
	return text.Text
}

func TestBridgeCallProxiesRequest(t *testing.T) {
	var gotPath, gotKey string
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"count":2}`))
	}))
	defer bridge.Close()

	cfg := Config{BridgeURL: bridge.URL, APIKey: "secret-key"}
	result, err := bridgeCall(context.Background(), cfg, testLogger(t), http.MethodGet, "/inbox", nil)
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Equal(t, "/inbox", gotPath)
	assert.Equal(t, "secret-key", gotKey)

	text := resultText(t, result)
	assert.Contains(t, text, `"ok": true`)
	assert.Contains(t, text, `"count": 2`)
}

func TestBridgeCallPostsPayload(t *testing.T) {
	var gotMethod, gotType string
	var gotBody map[string]interface{}
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer bridge.Close()

	cfg := Config{BridgeURL: bridge.URL, APIKey: "k"}
	payload := map[string]interface{}{"to": "bob", "content": "hello"}
	result, err := bridgeCall(context.Background(), cfg, testLogger(t), http.MethodPost, "/send", payload)
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "bob", gotBody["to"])
	assert.Equal(t, "hello", gotBody["content"])
}

func TestBridgeCallAPIError(t *testing.T) {
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"Task cannot be claimed (status: claimed)"}`))
	}))
	defer bridge.Close()

	cfg := Config{BridgeURL: bridge.URL, APIKey: "k"}
	result, err := bridgeCall(context.Background(), cfg, testLogger(t), http.MethodPost, "/tasks/abc/claim", nil)
	require.NoError(t, err)

	// Bridge errors surface as tool errors so the calling model sees them.
	require.True(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "API error (409)")
	assert.Contains(t, text, "Task cannot be claimed")
}

func TestBridgeCallUnreachable(t *testing.T) {
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	bridge.Close()

	cfg := Config{BridgeURL: bridge.URL, APIKey: "k"}
	result, err := bridgeCall(context.Background(), cfg, testLogger(t), http.MethodGet, "/inbox", nil)
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Bridge unreachable")
}

func TestServerLifecycle(t *testing.T) {
	srv := New(Config{Port: 0, BridgeURL: "http://localhost:8080", APIKey: "k"}, testLogger(t))
	ctx := context.Background()

	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	err := srv.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	// Port 0 resolves to a real listener port in the advertised endpoints.
	assert.True(t, strings.HasSuffix(srv.SSEEndpoint(), "/sse"))
	assert.NotContains(t, srv.SSEEndpoint(), ":0/")
	assert.True(t, strings.HasSuffix(srv.StreamableHTTPEndpoint(), "/mcp"))

	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, srv.Stop(ctx))
}
