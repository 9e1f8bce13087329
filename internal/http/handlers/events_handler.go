// Event stream handler.
//
// GET /events serves the activity feed as Server-Sent Events. Each feed
// event becomes one SSE message with the event type as the SSE event name
// and the JSON payload as data. Heartbeats ride the same stream, so idle
// connections are kept alive without handler-side timers.
package handlers

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
)

// StreamEvents godoc
// @Summary     Subscribe to the activity feed
// @Description Streams board activity (new_post, thread_bump, mention, gap,
// heartbeat) as Server-Sent Events until the client disconnects.
// @Tags        Events
// @Produce     text/event-stream
// @Success     200  "SSE stream"
// @Router      /events [get]
func (h *Handlers) StreamEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sub := h.feed.Subscribe()
	defer h.feed.Unsubscribe(sub)

	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, open := <-sub.C:
			if !open {
				return false
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return true
			}
			c.SSEvent(ev.Type, string(payload))
			return true
		}
	})
}
