package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/confessio/backend/internal/board"
	"github.com/confessio/backend/internal/metrics"
	"github.com/confessio/backend/internal/wall"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// EventInitWall carries the board snapshot sent to a joining connection.
	EventInitWall = "init_wall"
	// EventUpdateWall carries the full snapshot rebroadcast after a change.
	EventUpdateWall = "update_wall"
	eventHeartbeat  = "heartbeat"

	heartbeatInterval = 15 * time.Second
)

type notePayload struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Identity  string `json:"identity"`
	AccentTag string `json:"accentTag"`
	Timestamp string `json:"timestamp"`
}

func snapshotPayload(snapshot wall.Snapshot) []notePayload {
	payload := make([]notePayload, 0, len(snapshot.Notes))
	for _, note := range snapshot.Notes {
		payload = append(payload, notePayload{
			ID:        note.NoteID,
			Text:      note.Text,
			Identity:  note.Identity,
			AccentTag: note.Accent,
			Timestamp: note.CreatedAt().Format(time.RFC3339Nano),
		})
	}
	return payload
}

// handleBoardStream is the realtime channel: joining a board opens the
// stream, the snapshot arrives as init_wall, every later change as
// update_wall, and closing the stream leaves the room.
func (h *httpHandler) handleBoardStream(c *gin.Context) {
	ctx := c.Request.Context()

	snapshot, stream, cleanup, err := h.engine.Join(ctx, c.Param("key"))
	if err != nil {
		if errors.Is(err, board.ErrInvalidBoardKey) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_board_key"})
			return
		}
		h.logger.Error("board join failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "join_failed"})
		return
	}
	defer cleanup()

	metrics.StreamConnections.Inc()
	defer metrics.StreamConnections.Dec()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	if err := writeEvent(c.Writer, EventInitWall, snapshotPayload(snapshot)); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case update := <-stream:
			if err := writeEvent(c.Writer, EventUpdateWall, snapshotPayload(update)); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := writeEvent(c.Writer, eventHeartbeat, gin.H{}); err != nil {
				return
			}
		}
	}
}

func writeEvent(w gin.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
