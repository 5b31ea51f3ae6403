package server

import (
	"io"
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/store"
	"github.com/gin-gonic/gin"
)

const (
	RealtimeEventStoreChanged = "events-changed"
	realtimeEventHeartbeat    = "heartbeat"
	realtimeSourceBackend     = "hearth"
	defaultHeartbeatInterval  = 25 * time.Second
)

// RealtimeMessage is the payload of one server-sent event.
type RealtimeMessage struct {
	Source    string    `json:"source"`
	Origin    string    `json:"origin,omitempty"`
	EventIDs  []string  `json:"eventIds,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newRealtimeMessage(signal store.ChangeSignal) RealtimeMessage {
	ids := make([]string, 0, len(signal.EventIDs))
	for _, id := range signal.EventIDs {
		ids = append(ids, id.String())
	}
	return RealtimeMessage{
		Source:    realtimeSourceBackend,
		Origin:    string(signal.Origin),
		EventIDs:  ids,
		Timestamp: signal.Timestamp,
	}
}

// handleChangeStream forwards store change signals as server-sent events
// until the client disconnects.
func (h *httpHandler) handleChangeStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.changes.Subscribe(ctx)
	defer cleanup()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(realtimeEventHeartbeat, RealtimeMessage{Source: realtimeSourceBackend, Timestamp: time.Now().UTC()})
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case signal, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(RealtimeEventStoreChanged, newRealtimeMessage(signal))
			return true
		case now := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, RealtimeMessage{Source: realtimeSourceBackend, Timestamp: now.UTC()})
			return true
		}
	})
}
