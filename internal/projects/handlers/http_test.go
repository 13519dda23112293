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
	"github.com/dylanneve1/agent-bridge/internal/projects/service"
	"github.com/dylanneve1/agent-bridge/internal/projects/store"
	revservice "github.com/dylanneve1/agent-bridge/internal/revisions/service"
	revstore "github.com/dylanneve1/agent-bridge/internal/revisions/store"
	taskservice "github.com/dylanneve1/agent-bridge/internal/tasks/service"
	taskstore "github.com/dylanneve1/agent-bridge/internal/tasks/store"
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
	taskRepo, err := taskstore.New(pool.Writer(), pool.Reader())
	require.NoError(t, err)
	revRepo, err := revstore.New(pool.Writer(), pool.Reader())
	require.NoError(t, err)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	identitySvc := idservice.NewService(identityStore, nil, log)
	agent, err := identitySvc.Register(context.Background(), "alice")
	require.NoError(t, err)

	tasks := taskservice.NewService(taskRepo, nil, log)
	repos := revservice.NewService(revRepo, nil, log)
	svc := service.NewService(repo, tasks, repos, nil, log)

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

func TestProjectEndpoints(t *testing.T) {
	router, auth := setupRouter(t)

	w, resp := doRequest(t, router, http.MethodPost, "/projects",
		map[string]interface{}{"name": "apollo", "description": "moonshot", "tags": []string{"ml"}}, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["ok"])
	project := resp["project"].(map[string]interface{})
	assert.Equal(t, "apollo", project["name"])
	assert.Equal(t, "active", project["status"])
	projectID := project["id"].(string)

	w, _ = doRequest(t, router, http.MethodPost, "/projects", map[string]string{"name": "x"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp = doRequest(t, router, http.MethodGet, "/projects", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["count"])
	summary := resp["projects"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, float64(0), summary["task_count"])
	assert.Equal(t, float64(0), summary["progress_pct"])

	w, resp = doRequest(t, router, http.MethodGet, "/projects/"+projectID, nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "apollo", resp["project"].(map[string]interface{})["name"])
	assert.Len(t, resp["members"], 1)
	assert.NotNil(t, resp["tasks"])
	assert.NotNil(t, resp["milestones"])
	assert.NotNil(t, resp["repos"])

	w, _ = doRequest(t, router, http.MethodGet, "/projects/missing", nil, auth)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMemberAndMilestoneEndpoints(t *testing.T) {
	router, auth := setupRouter(t)

	w, resp := doRequest(t, router, http.MethodPost, "/projects",
		map[string]string{"name": "apollo"}, auth)
	require.Equal(t, http.StatusOK, w.Code)
	projectID := resp["project"].(map[string]interface{})["id"].(string)

	// The agent_id alias names the member too.
	w, resp = doRequest(t, router, http.MethodPost, "/projects/"+projectID+"/members",
		map[string]string{"agent_id": "bob"}, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["ok"])

	w, resp = doRequest(t, router, http.MethodPost, "/projects/"+projectID+"/members",
		map[string]string{"agent": "bob"}, auth)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "bob is already a member", resp["error"])

	w, resp = doRequest(t, router, http.MethodPost, "/projects/"+projectID+"/milestones",
		map[string]string{"name": "alpha", "due_by": "2026-09-01"}, auth)
	require.Equal(t, http.StatusOK, w.Code)
	milestone := resp["milestone"].(map[string]interface{})
	assert.Equal(t, "alpha", milestone["name"])
	assert.Equal(t, "open", milestone["status"])

	w, resp = doRequest(t, router, http.MethodGet, "/projects/"+projectID+"/milestones", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["count"])
}
