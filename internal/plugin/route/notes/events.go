package notes

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/strandhq/strand/internal/events"
)

const keepAliveInterval = 25 * time.Second

// streamEvents delivers the workspace's mutation events over SSE. One
// subscription per connection; the hub drops events for clients that fall
// too far behind instead of blocking mutations.
func streamEvents(c *gin.Context, hub *events.Hub) {
	workspaceID, err := uuid.Parse(c.Param("workspaceId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "workspace not found"})
		return
	}

	ch, cancel := hub.Subscribe(workspaceID)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case event, ok := <-ch:
			if !ok {
				return false
			}
			data, err := json.Marshal(event)
			if err != nil {
				return true
			}
			c.SSEvent("mutation", string(data))
			return true
		case <-keepAlive.C:
			c.SSEvent("keep-alive", "{}")
			return true
		}
	})
}
