package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/akriventsev/activities/framework/events"
	"github.com/akriventsev/activities/framework/store"
)

const (
	pingInterval   = 30 * time.Second
	writeWait      = 10 * time.Second
	eventBacklog   = 64
	maxMessageSize = 512
)

// StreamMessage сообщение потока событий запуска
type StreamMessage struct {
	Type  string           `json:"type"`
	Run   *store.RunRecord `json:"run,omitempty"`
	Event events.Event     `json:"event,omitempty"`
}

// Типы сообщений потока
const (
	StreamSnapshot = "snapshot"
	StreamEvent    = "event"
)

func isRunTerminal(eventType string) bool {
	switch eventType {
	case events.RunCompleted, events.RunFailed, events.RunCancelled:
		return true
	}
	return false
}

// streamRunEvents отдает снимок запуска, затем его события до завершения
func (s *Server) streamRunEvents(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "event stream is not configured"})
		return
	}
	id := c.Param("id")

	feed := make(chan events.Event, eventBacklog)
	unsubscribe, err := s.events.Subscribe(events.AllEvents, events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		if event.RunID() != id {
			return nil
		}
		select {
		case feed <- event:
		default:
			s.logger.WithField("run_id", id).Warn("event stream backlog full, dropping event")
		}
		return nil
	}))
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer unsubscribe()

	rec, err := s.runner.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	if err := writeMessage(conn, StreamMessage{Type: StreamSnapshot, Run: rec}); err != nil {
		return
	}
	if rec.State.IsTerminal() {
		closeStream(conn)
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(maxMessageSize)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case event := <-feed:
			if err := writeMessage(conn, StreamMessage{Type: StreamEvent, Event: event}); err != nil {
				return
			}
			if isRunTerminal(event.EventType()) {
				closeStream(conn)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func closeStream(conn *websocket.Conn) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
		time.Now().Add(writeWait))
}
