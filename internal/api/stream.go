package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/hexworld/internal/world"
)

const (
	maxStreamConns   = 8
	streamWriteWait  = 5 * time.Second
	streamReadWait   = 60 * time.Second
	streamPingPeriod = 15 * time.Second
)

// streamRequest asks for a chunk snapshot, generating the chunk if needed.
type streamRequest struct {
	Chunk *world.ChunkPosition `json:"chunk"`
}

// streamMessage is one server-to-client frame. Exactly one field is set.
type streamMessage struct {
	Event *Event               `json:"event,omitempty"`
	Chunk *world.ChunkSnapshot `json:"chunk,omitempty"`
	Error string               `json:"error,omitempty"`
}

// handleStream upgrades to a websocket that pushes world events and answers
// chunk requests: {"chunk": {"x": 0, "y": 0}}.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.streamConns.Add(1) > maxStreamConns {
		s.streamConns.Add(-1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer s.streamConns.Add(-1)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied.
	}
	defer conn.Close()

	id, events := s.events.Subscribe()
	defer s.events.Unsubscribe(id)
	slog.Debug("stream client connected", "sub_id", id, "remote", r.RemoteAddr)

	replies := make(chan streamMessage, 8)
	quit := make(chan struct{})
	defer close(quit)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.readStream(conn, clientIP(r), replies, quit)
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		var msg streamMessage
		select {
		case <-readDone:
			return
		case e, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(streamWriteWait))
				return
			}
			msg.Event = &e
		case msg = <-replies:
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			slog.Debug("stream write failed", "sub_id", id, "error", err)
			return
		}
	}
}

// readStream decodes client requests until the connection fails. Chunk
// requests count against client's rate limit. Only the writer loop writes
// to conn.
func (s *Server) readStream(conn *websocket.Conn, client string, replies chan<- streamMessage, quit <-chan struct{}) {
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamReadWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))

		var reply streamMessage
		var req streamRequest
		switch err := json.Unmarshal(data, &req); {
		case err != nil:
			reply.Error = "invalid request: " + err.Error()
		case req.Chunk == nil:
			reply.Error = "request names no chunk"
		case !s.limiter.Allow(client):
			reply.Error = "rate limited"
		default:
			s.mu.Lock()
			snap := s.chunk(*req.Chunk).Snapshot()
			s.mu.Unlock()
			reply.Chunk = &snap
		}

		select {
		case replies <- reply:
		case <-quit:
			return
		}
	}
}
