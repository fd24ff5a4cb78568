package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"autotrade-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope tags each streamed payload with its topic.
type envelope struct {
	Event   events.Event `json:"event"`
	Payload any          `json:"payload"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	merged := make(chan envelope, 256)
	done := make(chan struct{})
	defer close(done)
	for _, topic := range events.Topics {
		stream, unsub := s.bus.Subscribe(topic, 100)
		defer unsub()
		go func(topic events.Event, stream <-chan any) {
			for msg := range stream {
				select {
				case merged <- envelope{Event: topic, Payload: msg}:
				case <-done:
					return
				}
			}
		}(topic, stream)
	}

	// Reader goroutine notices a client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case msg := <-merged:
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}
}
