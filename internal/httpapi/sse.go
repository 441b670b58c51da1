package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fixaren/backoffice/internal/pipeline"
	"github.com/gin-gonic/gin"
)

// streamActivity pushes new ledger entries of the caller's tenant as
// server-sent events. It polls from the "since" query parameter, or from
// the time of connection, and never sends an entry twice.
func (s *Server) streamActivity(c *gin.Context) {
	since, ok := timeQuery(c, "since")
	if !ok {
		return
	}
	if since.IsZero() {
		since = time.Now().UTC()
	}
	tenant := principal(c).TenantID

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	ctx := c.Request.Context()
	cursor := &streamCursor{since: since, seen: map[string]bool{}}

	poll := func() bool {
		views, err := s.svc.ListActivity(ctx, tenant, pipeline.ActivityFilter{
			Since: cursor.since,
			Limit: pipeline.MaxPageSize,
		})
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warnw("activity stream poll failed", "tenant", tenant, "error", err)
			}
			return ctx.Err() == nil
		}
		for _, v := range cursor.advance(views) {
			writeSSE(c.Writer, "activity", v)
		}
		c.Writer.Flush()
		return true
	}
	if !poll() {
		return
	}

	ticker := time.NewTicker(s.poll)
	heartbeat := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case <-ticker.C:
			if !poll() {
				return
			}
		}
	}
}

// streamCursor tracks the newest timestamp delivered and the ids sent at
// that timestamp, since the next poll includes it again.
type streamCursor struct {
	since time.Time
	seen  map[string]bool
}

// advance takes a newest-first page and returns the unsent entries
// oldest first.
func (sc *streamCursor) advance(views []pipeline.ActivityView) []pipeline.ActivityView {
	var out []pipeline.ActivityView
	for i := len(views) - 1; i >= 0; i-- {
		v := views[i]
		if sc.seen[v.ID] {
			continue
		}
		out = append(out, v)
		if v.CreatedAt.After(sc.since) {
			sc.since = v.CreatedAt
			sc.seen = map[string]bool{}
		}
		sc.seen[v.ID] = true
	}
	return out
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
