package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/contrax-app/contrax/backend/internal/apperr"
	"github.com/contrax-app/contrax/backend/internal/realtime"
	"github.com/gin-gonic/gin"
)

// handleEvents streams plan and contract changes for one user as server-sent events.
func (h *httpHandler) handleEvents(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userId"))
	if userID == "" {
		h.respondError(c, apperr.Validation("http.events", "missing_user_id", "userId é obrigatório"))
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, newEventPayload(message))
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtime.EventHeartbeat, eventPayload{Timestamp: tick.UTC()})
			return true
		}
	})
}
