package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"mime/multipart"
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
	"github.com/dylanneve1/agent-bridge/internal/files/service"
	"github.com/dylanneve1/agent-bridge/internal/files/store"
	idhandlers "github.com/dylanneve1/agent-bridge/internal/identity/handlers"
	idservice "github.com/dylanneve1/agent-bridge/internal/identity/service"
	idstore "github.com/dylanneve1/agent-bridge/internal/identity/store"
	msgstore "github.com/dylanneve1/agent-bridge/internal/messaging/store"
)

func setupRouter(t *testing.T) (*gin.Engine, map[string]string, map[string]string) {
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
	messagingStore, err := msgstore.New(pool.Writer(), pool.Reader())
	require.NoError(t, err)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	identitySvc := idservice.NewService(identityStore, nil, log)
	auth := map[string]map[string]string{}
	for _, name := range []string{"alice", "bob"} {
		agent, err := identitySvc.Register(context.Background(), name)
		require.NoError(t, err)
		auth[name] = map[string]string{"x-api-key": agent.APIKey}
	}

	svc, err := service.NewService(repo, messagingStore, filepath.Join(t.TempDir(), "blobs"), nil, log)
	require.NoError(t, err)

	router := gin.New()
	RegisterRoutes(router, svc, idhandlers.RequireAgent(identitySvc, log), log)
	return router, auth["alice"], auth["bob"]
}

func uploadRequest(t *testing.T, path, filename string, content []byte, fields map[string]string, headers map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func send(t *testing.T, router *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var parsed map[string]interface{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &parsed)
	}
	return w, parsed
}

func get(t *testing.T, router *gin.Engine, path string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return send(t, router, req)
}

func TestUploadAndDownload(t *testing.T) {
	router, alice, _ := setupRouter(t)
	content := []byte("hello blob world")

	w, resp := send(t, router, uploadRequest(t, "/files/upload", "notes.txt", content,
		map[string]string{"description": "meeting notes"}, alice))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, "notes.txt", resp["filename"])
	assert.Equal(t, float64(len(content)), resp["size"])
	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), resp["sha256"])
	fileID := resp["file_id"].(string)
	downloadURL := resp["download_url"].(string)
	assert.Equal(t, "/files/"+fileID+"/notes.txt", downloadURL)

	// Metadata and downloads are public.
	w, resp = get(t, router, "/files/"+fileID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "meeting notes", resp["description"])

	w, _ = get(t, router, downloadURL, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, content, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="notes.txt"`)

	w, _ = get(t, router, "/files/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadValidation(t *testing.T) {
	router, alice, _ := setupRouter(t)

	w, resp := send(t, router, uploadRequest(t, "/files/upload", "", nil, nil, alice))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "file field is required", resp["error"])

	w, _ = send(t, router, uploadRequest(t, "/files/upload", "x.txt", []byte("x"), nil, nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSendFileEndpoint(t *testing.T) {
	router, alice, _ := setupRouter(t)

	w, resp := send(t, router, uploadRequest(t, "/send-file", "fix.patch", []byte("--- a\n+++ b\n"),
		map[string]string{"to": "bob", "content": "try this"}, alice))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["ok"])
	assert.NotEmpty(t, resp["message_id"])
	assert.NotEmpty(t, resp["conversation_id"])

	// The file is scoped to the DM conversation created for the send.
	w, resp = get(t, router, "/files?uploaded_by=alice", alice)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["count"])
	files := resp["files"].([]interface{})
	assert.Equal(t, "fix.patch", files[0].(map[string]interface{})["original_name"])
	assert.NotEmpty(t, files[0].(map[string]interface{})["conversation_id"])
}

func TestDeleteEndpoint(t *testing.T) {
	router, alice, bob := setupRouter(t)

	w, resp := send(t, router, uploadRequest(t, "/files/upload", "mine.txt", []byte("private"), nil, alice))
	require.Equal(t, http.StatusOK, w.Code)
	fileID := resp["file_id"].(string)

	req := httptest.NewRequest(http.MethodDelete, "/files/"+fileID, nil)
	for k, v := range bob {
		req.Header.Set(k, v)
	}
	w, resp = send(t, router, req)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Only the uploader can delete this file", resp["error"])

	req = httptest.NewRequest(http.MethodDelete, "/files/"+fileID, nil)
	for k, v := range alice {
		req.Header.Set(k, v)
	}
	w, resp = send(t, router, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, fileID, resp["deleted"])

	w, _ = get(t, router, "/files/"+fileID, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
