package notes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/strandhq/strand/internal/config"
	"github.com/strandhq/strand/internal/events"
	"github.com/strandhq/strand/internal/plugin/route/notes"
	registrymigrate "github.com/strandhq/strand/internal/registry/migrate"
	registrystore "github.com/strandhq/strand/internal/registry/store"
	"github.com/strandhq/strand/internal/security"
	"github.com/strandhq/strand/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/strandhq/strand/internal/plugin/store/gormstore"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "strand.db")
	cfg.DatastoreMigrateAtStart = true
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))
	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	st, err := loader(ctx)
	require.NoError(t, err)

	hub := events.NewHub()
	svc := service.NewNoteService(st, hub, nil, nil)

	router := gin.New()
	auth := security.AuthMiddleware(security.NewTokenResolver(&cfg))
	notes.MountRoutes(router, svc, hub, auth)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer user1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createNote(t *testing.T, router *gin.Engine, content string) map[string]any {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/v1/notes", gin.H{
		"workspaceId": "11111111-1111-1111-1111-111111111111",
		"content":     content,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var note map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &note))
	return note
}

func TestCreateNoteReturnsRevisionETag(t *testing.T) {
	router := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/v1/notes", gin.H{
		"workspaceId": "11111111-1111-1111-1111-111111111111",
		"content":     "hello",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, `"1"`, w.Header().Get("ETag"))

	var note map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &note))
	assert.Equal(t, "user1", note["ownerUserId"])
	assert.Equal(t, "pending", note["status"])
}

func TestCreateNoteRequiresAuth(t *testing.T) {
	router := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/notes", bytes.NewBufferString("{}"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateContentWithIfMatch(t *testing.T) {
	router := setupRouter(t)
	note := createNote(t, router, "original")
	noteID := note["id"].(string)

	w := doJSON(t, router, http.MethodPatch, "/v1/notes/"+noteID+"/content",
		gin.H{"content": "edited"}, map[string]string{"If-Match": `"1"`})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, `"2"`, w.Header().Get("ETag"))
}

func TestUpdateContentStaleIfMatchIs412(t *testing.T) {
	router := setupRouter(t)
	note := createNote(t, router, "original")
	noteID := note["id"].(string)

	w := doJSON(t, router, http.MethodPatch, "/v1/notes/"+noteID+"/content",
		gin.H{"content": "first"}, map[string]string{"If-Match": `"1"`})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPatch, "/v1/notes/"+noteID+"/content",
		gin.H{"content": "stale"}, map[string]string{"If-Match": `"1"`})
	require.Equal(t, http.StatusPreconditionFailed, w.Code, w.Body.String())
	assert.Equal(t, `"2"`, w.Header().Get("ETag"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "revision_conflict", resp["code"])
	conflict := resp["conflict"].(map[string]any)
	assert.Equal(t, float64(2), conflict["currentRevision"])
}

func TestUpdateContentAcceptsWeakETag(t *testing.T) {
	router := setupRouter(t)
	note := createNote(t, router, "original")
	noteID := note["id"].(string)

	w := doJSON(t, router, http.MethodPatch, "/v1/notes/"+noteID+"/content",
		gin.H{"content": "edited"}, map[string]string{"If-Match": `W/"1"`})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestUpdateContentHeaderBodyDisagreementIs400(t *testing.T) {
	router := setupRouter(t)
	note := createNote(t, router, "original")
	noteID := note["id"].(string)

	w := doJSON(t, router, http.MethodPatch, "/v1/notes/"+noteID+"/content",
		gin.H{"content": "edited", "baseRevision": 2}, map[string]string{"If-Match": `"1"`})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	// The rejected request must not have advanced the revision.
	w = doJSON(t, router, http.MethodGet, "/v1/notes/"+noteID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"1"`, w.Header().Get("ETag"))
}

func TestUpdateContentInvalidIfMatchIs400(t *testing.T) {
	router := setupRouter(t)
	note := createNote(t, router, "original")
	noteID := note["id"].(string)

	for _, tag := range []string{`"abc"`, `"0"`, `"-3"`} {
		w := doJSON(t, router, http.MethodPatch, "/v1/notes/"+noteID+"/content",
			gin.H{"content": "edited"}, map[string]string{"If-Match": tag})
		assert.Equal(t, http.StatusBadRequest, w.Code, fmt.Sprintf("tag %s: %s", tag, w.Body.String()))
	}
}

func TestUpdateContentWithoutTokenIsUnconditional(t *testing.T) {
	router := setupRouter(t)
	note := createNote(t, router, "original")
	noteID := note["id"].(string)

	w := doJSON(t, router, http.MethodPatch, "/v1/notes/"+noteID+"/content",
		gin.H{"content": "first"}, map[string]string{"If-Match": `"1"`})
	require.Equal(t, http.StatusOK, w.Code)

	// No If-Match and no baseRevision: last write wins.
	w = doJSON(t, router, http.MethodPatch, "/v1/notes/"+noteID+"/content",
		gin.H{"content": "unconditional"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, `"3"`, w.Header().Get("ETag"))
}

func TestUpdateContentRebaseQueryMergesStaleEdit(t *testing.T) {
	router := setupRouter(t)
	note := createNote(t, router, "alpha middle omega")
	noteID := note["id"].(string)

	w := doJSON(t, router, http.MethodPatch, "/v1/notes/"+noteID+"/content",
		gin.H{"content": "ALPHA middle omega", "baseRevision": 1}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPatch, "/v1/notes/"+noteID+"/content?rebase=true",
		gin.H{"content": "alpha middle OMEGA", "baseRevision": 1}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var merged map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &merged))
	assert.Equal(t, "ALPHA middle OMEGA", merged["content"])
	assert.Equal(t, float64(3), merged["revision"])
}

func TestUpdateMetadataAndVersions(t *testing.T) {
	router := setupRouter(t)
	note := createNote(t, router, "content")
	noteID := note["id"].(string)

	w := doJSON(t, router, http.MethodPatch, "/v1/notes/"+noteID+"/metadata",
		gin.H{"tags": []string{"go", "notes"}, "baseRevision": 1}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/v1/notes/"+noteID+"/versions", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, float64(1), resp.Data[0]["versionNumber"])
}

func TestGetEnrichmentJob(t *testing.T) {
	router := setupRouter(t)
	note := createNote(t, router, "content")
	noteID := note["id"].(string)

	w := doJSON(t, router, http.MethodGet, "/v1/notes/"+noteID+"/enrichment", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var job map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "queued", job["status"])
}

func TestRetryEnrichmentAccepted(t *testing.T) {
	router := setupRouter(t)
	note := createNote(t, router, "content")
	noteID := note["id"].(string)

	w := doJSON(t, router, http.MethodPost, "/v1/notes/"+noteID+"/enrichment/retry", nil, nil)
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
}

func TestDeleteNote(t *testing.T) {
	router := setupRouter(t)
	note := createNote(t, router, "content")
	noteID := note["id"].(string)

	w := doJSON(t, router, http.MethodDelete, "/v1/notes/"+noteID, nil, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/notes/"+noteID, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetUnknownNoteIs404(t *testing.T) {
	router := setupRouter(t)
	w := doJSON(t, router, http.MethodGet, "/v1/notes/22222222-2222-2222-2222-222222222222", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(t, router, http.MethodGet, "/v1/notes/not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
