package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/db"
	"github.com/dylanneve1/agent-bridge/internal/db/dialect"
	idhandlers "github.com/dylanneve1/agent-bridge/internal/identity/handlers"
	idservice "github.com/dylanneve1/agent-bridge/internal/identity/service"
	idstore "github.com/dylanneve1/agent-bridge/internal/identity/store"
	"github.com/dylanneve1/agent-bridge/internal/revisions/service"
	"github.com/dylanneve1/agent-bridge/internal/revisions/store"
)

func setupRouter(t *testing.T) (*gin.Engine, map[string]string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pool, err := db.Open(db.Options{
		Driver:      dialect.SQLite3,
		Path:        filepath.Join(t.TempDir(), "bridge.db"),
		BusyTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	identityStore, err := idstore.New(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	repo, err := store.New(pool.Writer(), pool.Reader())
	require.NoError(t, err)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	identitySvc := idservice.NewService(identityStore, nil, log)
	agent, err := identitySvc.Register(context.Background(), "alice")
	require.NoError(t, err)

	svc := service.NewService(repo, nil, log)

	router := gin.New()
	RegisterRoutes(router, svc, idhandlers.RequireAgent(identitySvc, log), log)
	return router, map[string]string{"x-api-key": agent.APIKey}
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var parsed map[string]interface{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &parsed)
	}
	return w, parsed
}

func commitBody(message string, files ...map[string]string) map[string]interface{} {
	changes := make([]interface{}, 0, len(files))
	for _, f := range files {
		changes = append(changes, f)
	}
	return map[string]interface{}{"message": message, "files": changes}
}

func TestRepoEndpoints(t *testing.T) {
	router, auth := setupRouter(t)

	w, resp := doRequest(t, router, http.MethodPost, "/git/repos",
		map[string]string{"name": "api", "description": "core service"}, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["ok"])
	repo := resp["repo"].(map[string]interface{})
	assert.Equal(t, "api", repo["name"])
	assert.Equal(t, "main", repo["default_branch"])

	w, resp = doRequest(t, router, http.MethodPost, "/git/repos",
		map[string]string{"name": "api"}, auth)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Repo 'api' already exists", resp["error"])

	w, _ = doRequest(t, router, http.MethodPost, "/git/repos", map[string]string{"name": "x"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp = doRequest(t, router, http.MethodGet, "/git/repos", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["count"])

	w, resp = doRequest(t, router, http.MethodGet, "/git/repos/api", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "api", resp["repo"].(map[string]interface{})["name"])

	w, _ = doRequest(t, router, http.MethodGet, "/git/repos/missing", nil, auth)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCommitLogTreeEndpoints(t *testing.T) {
	router, auth := setupRouter(t)

	_, resp := doRequest(t, router, http.MethodPost, "/git/repos",
		map[string]string{"name": "api"}, auth)
	require.Equal(t, true, resp["ok"])

	w, resp := doRequest(t, router, http.MethodPost, "/git/repos/api/commit",
		commitBody("initial",
			map[string]string{"path": "src/main.go", "content": "package main\n", "action": "add"},
			map[string]string{"path": "docs/readme.md", "content": "# api\n", "action": "add"}), auth)
	require.Equal(t, http.StatusOK, w.Code)
	commit := resp["commit"].(map[string]interface{})
	assert.Equal(t, "initial", commit["message"])
	assert.Equal(t, "main", commit["branch"])
	firstID := commit["id"].(string)

	w, resp = doRequest(t, router, http.MethodPost, "/git/repos/api/commit",
		commitBody("drop docs",
			map[string]string{"path": "docs/readme.md", "action": "delete"}), auth)
	require.Equal(t, http.StatusOK, w.Code)
	secondID := resp["commit"].(map[string]interface{})["id"].(string)

	w, resp = doRequest(t, router, http.MethodPost, "/git/repos/api/commit",
		commitBody("empty"), auth)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "files is required", resp["error"])

	w, resp = doRequest(t, router, http.MethodGet, "/git/repos/api/log", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(2), resp["count"])
	entries := resp["log"].([]interface{})
	assert.Equal(t, secondID, entries[0].(map[string]interface{})["id"])
	assert.Equal(t, firstID, entries[1].(map[string]interface{})["id"])

	// The delete in the second commit shadows docs/readme.md.
	w, resp = doRequest(t, router, http.MethodGet, "/git/repos/api/tree", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(1), resp["count"])
	entry := resp["tree"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "src/main.go", entry["path"])
}

func TestReadFileAndDiffEndpoints(t *testing.T) {
	router, auth := setupRouter(t)

	_, resp := doRequest(t, router, http.MethodPost, "/git/repos",
		map[string]string{"name": "api"}, auth)
	require.Equal(t, true, resp["ok"])

	_, resp = doRequest(t, router, http.MethodPost, "/git/repos/api/commit",
		commitBody("initial",
			map[string]string{"path": "src/main.go", "content": "package main\n", "action": "add"}), auth)
	commitID := resp["commit"].(map[string]interface{})["id"].(string)

	// The wildcard route keeps slashes in the file path.
	w, resp := doRequest(t, router, http.MethodGet, "/git/repos/api/files/src/main.go", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "src/main.go", resp["path"])
	assert.Equal(t, "package main\n", resp["content"])
	assert.Equal(t, commitID, resp["commit_id"])

	w, resp = doRequest(t, router, http.MethodGet, "/git/repos/api/files/src/other.go", nil, auth)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "File 'src/other.go' not found in branch 'main'", resp["error"])

	req := httptest.NewRequest(http.MethodGet, "/git/repos/api/diff/"+commitID, nil)
	for k, v := range auth {
		req.Header.Set(k, v)
	}
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	text := w.Body.String()
	assert.Contains(t, text, "commit "+commitID)
	assert.Contains(t, text, "author: alice")
	assert.Contains(t, text, "new file, 13 bytes")
}
