// ABOUTME: WebSocket chat endpoint upgrading connections into sessions
// ABOUTME: Authenticates before upgrade and adapts gorilla conns to FrameConn

package api

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/alphahub/hub/internal/protocol"
	"github.com/alphahub/hub/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// same posture as the CORS middleware: permissive by default
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleChat handles GET /v1/ws/chat. Authentication is checked before
// the upgrade so unauthorized clients are refused with a plain 401
// instead of a half-open socket. After the upgrade the session owns
// the connection until it drops.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if err := s.authenticate(r); err != nil {
		s.writeError(w, http.StatusUnauthorized, protocol.CodeUnauthorized, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conversationID := r.URL.Query().Get("conversation_id")
	sess := session.New(&wsFrameConn{conn: conn}, s.orch, s.bus, conversationID, s.logger)
	if err := sess.Run(r.Context()); err != nil {
		s.logger.Error("session ended with error", "error", err)
	}
}

// wsFrameConn adapts a gorilla connection to session.FrameConn. Writes
// are serialized by the session, satisfying gorilla's single-writer
// requirement.
type wsFrameConn struct {
	conn *websocket.Conn
}

func (c *wsFrameConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsFrameConn) WriteFrame(v any) error {
	return c.conn.WriteJSON(v)
}
