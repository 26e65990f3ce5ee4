// Package admin mounts the privileged diagnostics surface: queue counts and
// failed-job detail per workspace, and explicit job retry.
package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	registryroute "github.com/strandhq/strand/internal/registry/route"
	registrystore "github.com/strandhq/strand/internal/registry/store"
	"github.com/strandhq/strand/internal/security"
)

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 200,
		Loader: func(r *gin.Engine) error {
			return nil // routes are mounted by the serve command after store init
		},
	})
}

// MountRoutes mounts admin routes on the engine. All routes require the
// admin role.
func MountRoutes(r *gin.Engine, store registrystore.NoteStore, auth gin.HandlerFunc) {
	g := r.Group("/v1/admin", auth, security.RequireAdminRole())

	g.GET("/workspaces/:workspaceId/queue", func(c *gin.Context) {
		workspaceID, ok := workspaceParam(c)
		if !ok {
			return
		}
		counts, err := store.JobCountsByStatus(c.Request.Context(), workspaceID)
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, counts)
	})

	g.GET("/workspaces/:workspaceId/queue/failed", func(c *gin.Context) {
		workspaceID, ok := workspaceParam(c)
		if !ok {
			return
		}
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil {
				limit = v
			}
		}
		jobs, err := store.ListFailedJobs(c.Request.Context(), workspaceID, limit)
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": jobs})
	})

	g.GET("/jobs/:jobId", func(c *gin.Context) {
		jobID, ok := jobParam(c)
		if !ok {
			return
		}
		job, err := store.GetJob(c.Request.Context(), jobID)
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	})

	g.POST("/jobs/:jobId/retry", func(c *gin.Context) {
		jobID, ok := jobParam(c)
		if !ok {
			return
		}
		job, err := store.RetryJob(c.Request.Context(), jobID)
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, job)
	})
}

func workspaceParam(c *gin.Context) (uuid.UUID, bool) {
	workspaceID, err := uuid.Parse(c.Param("workspaceId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "workspace not found"})
		return uuid.Nil, false
	}
	return workspaceID, true
}

func jobParam(c *gin.Context) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "job not found"})
		return uuid.Nil, false
	}
	return jobID, true
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
