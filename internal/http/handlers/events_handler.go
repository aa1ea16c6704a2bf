// README: Server-sent events stream for the in-process notification registry.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"foodcourt/internal/http/middleware"
	"foodcourt/internal/notify"
	"foodcourt/internal/types"
)

type EventsHandler struct {
	registry *notify.Registry
}

func NewEventsHandler(registry *notify.Registry) *EventsHandler {
	return &EventsHandler{registry: registry}
}

// Stream holds the connection open and relays the caller's notifications as
// SSE. A reconnect from the same user replaces this stream.
func (h *EventsHandler) Stream(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeError(c, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	uid := types.ID(middleware.CallerUID(c))
	stream := h.registry.Connect(uid)
	defer h.registry.Disconnect(uid, stream)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, open := <-stream:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := c.Writer.Write([]byte("event: " + string(ev.Type) + "\ndata: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
