// Package notes mounts the note mutation and read surface. Concurrency
// tokens arrive as an If-Match header or a baseRevision body field; both
// present and disagreeing is rejected before any store call.
package notes

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/strandhq/strand/internal/events"
	"github.com/strandhq/strand/internal/model"
	registryroute "github.com/strandhq/strand/internal/registry/route"
	registrystore "github.com/strandhq/strand/internal/registry/store"
	"github.com/strandhq/strand/internal/security"
	"github.com/strandhq/strand/internal/service"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 100,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts note routes on the engine. Called after store
// initialization so the service is available.
func MountRoutes(r *gin.Engine, svc *service.NoteService, hub *events.Hub, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.POST("/notes", func(c *gin.Context) { createNote(c, svc) })
	g.GET("/notes", func(c *gin.Context) { listNotes(c, svc) })
	g.GET("/notes/:noteId", func(c *gin.Context) { getNote(c, svc) })
	g.DELETE("/notes/:noteId", func(c *gin.Context) { deleteNote(c, svc) })

	g.PATCH("/notes/:noteId/content", func(c *gin.Context) { updateContent(c, svc) })
	g.PATCH("/notes/:noteId/attachment", func(c *gin.Context) { updateAttachment(c, svc) })
	g.PATCH("/notes/:noteId/metadata", func(c *gin.Context) { updateMetadata(c, svc) })

	g.GET("/notes/:noteId/versions", func(c *gin.Context) { listVersions(c, svc) })
	g.GET("/notes/:noteId/versions/:versionNumber", func(c *gin.Context) { getVersion(c, svc) })

	g.POST("/notes/:noteId/enrichment/retry", func(c *gin.Context) { retryEnrichment(c, svc) })
	g.GET("/notes/:noteId/enrichment", func(c *gin.Context) { getEnrichmentJob(c, svc) })

	g.GET("/workspaces/:workspaceId/events", func(c *gin.Context) { streamEvents(c, hub) })
}

func createNote(c *gin.Context, svc *service.NoteService) {
	userID := security.GetUserID(c)
	var req struct {
		WorkspaceID string   `json:"workspaceId"`
		Content     string   `json:"content"`
		RawContent  string   `json:"rawContent"`
		SourceType  string   `json:"sourceType"`
		SourceURL   *string  `json:"sourceUrl"`
		FileName    *string  `json:"fileName"`
		FileMime    *string  `json:"fileMime"`
		FileSize    *int64   `json:"fileSize"`
		ImagePath   *string  `json:"imagePath"`
		Tags        []string `json:"tags"`
		Project     string   `json:"project"`
		Title       *string  `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	workspaceID, err := uuid.Parse(req.WorkspaceID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid workspaceId"})
		return
	}
	sourceType := model.SourceType(req.SourceType)
	if sourceType == "" {
		sourceType = model.SourceText
	}
	switch sourceType {
	case model.SourceText, model.SourceLink, model.SourceImage, model.SourceFile:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": fmt.Sprintf("invalid sourceType %q", req.SourceType)})
		return
	}

	note, err := svc.CreateNote(c.Request.Context(), registrystore.CreateNoteRequest{
		WorkspaceID: workspaceID,
		OwnerUserID: userID,
		Content:     req.Content,
		RawContent:  req.RawContent,
		SourceType:  sourceType,
		SourceURL:   req.SourceURL,
		FileName:    req.FileName,
		FileMime:    req.FileMime,
		FileSize:    req.FileSize,
		ImagePath:   req.ImagePath,
		Tags:        model.TagList(req.Tags).Normalize(),
		Project:     req.Project,
		Title:       req.Title,
	})
	if err != nil && !isEnqueueError(err) {
		handleError(c, err)
		return
	}
	setRevisionHeader(c, note.Revision)
	respondWithWarning(c, http.StatusCreated, note, err)
}

func getNote(c *gin.Context, svc *service.NoteService) {
	noteID, ok := noteParam(c)
	if !ok {
		return
	}
	note, err := svc.Store().GetNote(c.Request.Context(), noteID)
	if err != nil {
		handleError(c, err)
		return
	}
	setRevisionHeader(c, note.Revision)
	c.JSON(http.StatusOK, note)
}

func listNotes(c *gin.Context, svc *service.NoteService) {
	workspaceID, err := uuid.Parse(c.Query("workspaceId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "workspaceId query parameter is required"})
		return
	}
	query := registrystore.ListNotesQuery{
		WorkspaceID: workspaceID,
		Limit:       queryInt(c, "limit", 50),
		Offset:      queryInt(c, "offset", 0),
	}
	if s := c.Query("status"); s != "" {
		status := model.NoteStatus(s)
		query.Status = &status
	}
	if p := c.Query("project"); p != "" {
		query.Project = &p
	}
	notes, err := svc.Store().ListNotes(c.Request.Context(), query)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": notes})
}

func deleteNote(c *gin.Context, svc *service.NoteService) {
	noteID, ok := noteParam(c)
	if !ok {
		return
	}
	if err := svc.DeleteNote(c.Request.Context(), noteID, security.GetUserID(c)); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func updateContent(c *gin.Context, svc *service.NoteService) {
	noteID, ok := noteParam(c)
	if !ok {
		return
	}
	var req struct {
		Content       *string `json:"content"`
		Title         *string `json:"title"`
		BaseRevision  *int64  `json:"baseRevision"`
		ChangeSummary string  `json:"changeSummary"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Content == nil && req.Title == nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "content or title is required"})
		return
	}
	baseRevision, ok := revisionToken(c, req.BaseRevision)
	if !ok {
		return
	}

	update := registrystore.ContentUpdate{
		Content:       req.Content,
		Title:         req.Title,
		BaseRevision:  baseRevision,
		ActorUserID:   security.GetUserID(c),
		ChangeSummary: req.ChangeSummary,
	}

	var note *model.Note
	var err error
	if c.Query("rebase") == "true" {
		note, _, err = svc.UpdateContentRebased(c.Request.Context(), noteID, update)
	} else {
		note, err = svc.UpdateContent(c.Request.Context(), noteID, update)
	}
	if err != nil && !isEnqueueError(err) {
		handleError(c, err)
		return
	}
	setRevisionHeader(c, note.Revision)
	respondWithWarning(c, http.StatusOK, note, err)
}

func updateAttachment(c *gin.Context, svc *service.NoteService) {
	noteID, ok := noteParam(c)
	if !ok {
		return
	}
	var req struct {
		FileName     *string `json:"fileName"`
		FileMime     *string `json:"fileMime"`
		FileSize     *int64  `json:"fileSize"`
		ImagePath    *string `json:"imagePath"`
		SourceURL    *string `json:"sourceUrl"`
		BaseRevision *int64  `json:"baseRevision"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	baseRevision, ok := revisionToken(c, req.BaseRevision)
	if !ok {
		return
	}

	note, err := svc.UpdateAttachment(c.Request.Context(), noteID, registrystore.AttachmentUpdate{
		FileName:     req.FileName,
		FileMime:     req.FileMime,
		FileSize:     req.FileSize,
		ImagePath:    req.ImagePath,
		SourceURL:    req.SourceURL,
		BaseRevision: baseRevision,
		ActorUserID:  security.GetUserID(c),
	})
	if err != nil && !isEnqueueError(err) {
		handleError(c, err)
		return
	}
	setRevisionHeader(c, note.Revision)
	respondWithWarning(c, http.StatusOK, note, err)
}

func updateMetadata(c *gin.Context, svc *service.NoteService) {
	noteID, ok := noteParam(c)
	if !ok {
		return
	}
	var req struct {
		Tags         *[]string `json:"tags"`
		Project      *string   `json:"project"`
		Title        *string   `json:"title"`
		BaseRevision *int64    `json:"baseRevision"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	baseRevision, ok := revisionToken(c, req.BaseRevision)
	if !ok {
		return
	}

	update := registrystore.MetadataUpdate{
		Project:      req.Project,
		Title:        req.Title,
		BaseRevision: baseRevision,
		ActorUserID:  security.GetUserID(c),
	}
	if req.Tags != nil {
		tags := model.TagList(*req.Tags).Normalize()
		update.Tags = &tags
	}

	note, err := svc.UpdateMetadata(c.Request.Context(), noteID, update)
	if err != nil {
		handleError(c, err)
		return
	}
	setRevisionHeader(c, note.Revision)
	c.JSON(http.StatusOK, note)
}

func listVersions(c *gin.Context, svc *service.NoteService) {
	noteID, ok := noteParam(c)
	if !ok {
		return
	}
	versions, err := svc.Store().ListVersions(c.Request.Context(), noteID, queryInt(c, "limit", 50))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": versions})
}

func getVersion(c *gin.Context, svc *service.NoteService) {
	noteID, ok := noteParam(c)
	if !ok {
		return
	}
	versionNumber, err := strconv.ParseInt(c.Param("versionNumber"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": "invalid version number"})
		return
	}
	version, err := svc.Store().GetVersion(c.Request.Context(), noteID, versionNumber)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, version)
}

func retryEnrichment(c *gin.Context, svc *service.NoteService) {
	noteID, ok := noteParam(c)
	if !ok {
		return
	}
	job, err := svc.RetryEnrichment(c.Request.Context(), noteID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func getEnrichmentJob(c *gin.Context, svc *service.NoteService) {
	noteID, ok := noteParam(c)
	if !ok {
		return
	}
	job, err := svc.Store().GetJobForNote(c.Request.Context(), noteID)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// --- helpers ---

func noteParam(c *gin.Context) (uuid.UUID, bool) {
	noteID, err := uuid.Parse(c.Param("noteId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "note not found"})
		return uuid.Nil, false
	}
	return noteID, true
}

// revisionToken resolves the base revision from the If-Match header and the
// body field. Both present and disagreeing is a client error. Returns
// (nil, true) when neither is present: the mutation applies unconditionally.
func revisionToken(c *gin.Context, bodyRevision *int64) (*int64, bool) {
	header := strings.TrimSpace(c.GetHeader("If-Match"))
	if header == "" {
		return bodyRevision, true
	}
	parsed, err := parseRevisionTag(header)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return nil, false
	}
	if bodyRevision != nil && *bodyRevision != parsed {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "validation_error",
			"error": fmt.Sprintf("If-Match revision %d disagrees with body baseRevision %d", parsed, *bodyRevision),
		})
		return nil, false
	}
	return &parsed, true
}

// parseRevisionTag accepts a positive integer revision, optionally
// weak-tagged (W/"3") or quoted ("3").
func parseRevisionTag(tag string) (int64, error) {
	raw := strings.TrimPrefix(tag, "W/")
	raw = strings.Trim(raw, `"`)
	rev, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || rev < 1 {
		return 0, fmt.Errorf("invalid If-Match revision %q: expected a positive integer", tag)
	}
	return rev, nil
}

func setRevisionHeader(c *gin.Context, revision int64) {
	c.Header("ETag", fmt.Sprintf(`"%d"`, revision))
}

func isEnqueueError(err error) bool {
	var qerr *service.EnqueueError
	return errors.As(err, &qerr)
}

// respondWithWarning returns the note, attaching the enqueue failure as a
// warning when the mutation committed but enrichment could not be queued.
func respondWithWarning(c *gin.Context, status int, note *model.Note, err error) {
	if err == nil {
		c.JSON(status, note)
		return
	}
	c.JSON(status, gin.H{"note": note, "warning": err.Error()})
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.RevisionConflictError
	var forbidden *registrystore.ForbiddenError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &conflict):
		setRevisionHeader(c, conflict.CurrentRevision)
		c.JSON(http.StatusPreconditionFailed, gin.H{
			"code":  "revision_conflict",
			"error": err.Error(),
			"conflict": gin.H{
				"currentRevision": conflict.CurrentRevision,
			},
		})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
