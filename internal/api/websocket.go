package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"pairs-trading-core/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsBuffer     = 100
	wsFanInDepth = 256
)

// Origins are not checked; the route sits behind AuthMiddleware.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// requestedTopics parses ?topics=a,b. Unknown names are skipped; an empty
// selection means every topic.
func requestedTopics(raw string) []events.Topic {
	known := events.Topics()
	if strings.TrimSpace(raw) == "" {
		return known
	}
	var out []events.Topic
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		for _, t := range known {
			if string(t) == name {
				out = append(out, t)
				break
			}
		}
	}
	if len(out) == 0 {
		return known
	}
	return out
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	// Fan every topic into one channel; the slow client loses messages, the
	// bus never blocks.
	out := make(chan events.Message, wsFanInDepth)
	var wg sync.WaitGroup
	var unsubs []func()
	for _, t := range requestedTopics(c.Query("topics")) {
		stream, unsub := s.Bus.Subscribe(t, wsBuffer)
		unsubs = append(unsubs, unsub)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range stream {
				select {
				case out <- msg:
				default:
				}
			}
		}()
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
		wg.Wait()
	}()

	// Client frames are discarded; a read error means the client left.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("ws write failed", zap.Error(err))
				return
			}
		}
	}
}
