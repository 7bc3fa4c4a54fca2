package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/chattr/internal/chat"
	"github.com/nugget/chattr/internal/transcript"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 64 << 10
	eventBuffer  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API has no browser session; any origin may connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleThreadStream runs turns over a WebSocket. Each client frame is
// a TurnRequest; the server answers with a record frame per transcript
// record and a final done or error frame. Turns on one connection run
// one at a time.
func (s *Server) handleThreadStream(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "chat not configured")
		return
	}
	threadID := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessage)

	logger := s.logger.With("thread_id", threadID, "remote", r.RemoteAddr)
	logger.Debug("thread stream opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	write := func(f streamFrame) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(f); err != nil {
			logger.Debug("websocket write failed", "error", err)
			cancel()
			return false
		}
		return true
	}

	for {
		var req TurnRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("thread stream closed by client")
			} else {
				logger.Debug("thread stream read ended", "error", err)
			}
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			if !write(streamFrame{Type: frameError, Error: "message is required"}) {
				return
			}
			continue
		}

		res, err := s.chat.Turn(ctx, chat.TurnRequest{
			ThreadID: threadID,
			UserID:   req.UserID,
			Message:  req.Message,
		}, func(rec transcript.Record) {
			write(streamFrame{Type: frameRecord, Record: &rec})
		})
		if err != nil {
			logger.Warn("streamed turn failed", "error", err)
		}
		if !write(finalFrame(res, err)) {
			return
		}
	}
}

// handleEvents relays bus events to a WebSocket client until either
// side closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(eventBuffer)
	defer s.bus.Unsubscribe(ch)

	// The reader only services control frames and notices the close.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("event write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
