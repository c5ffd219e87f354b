package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/huytu0702/graphtog/internal/status"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The API is same-origin agnostic; auth lives in front of it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// wsMessage frames a streamed event.
type wsMessage struct {
	Type string `json:"type"` // step | result | error
	Data any    `json:"data"`
}

// handleQueryStream answers one query per connection, sending each reasoning
// step as its own message before the final envelope. The connection closes
// after the result.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var req queryRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.wsSend(conn, wsMessage{Type: "error", Data: "unreadable query request"})
		return
	}
	if req.Question == "" {
		s.wsSend(conn, wsMessage{
			Type: "error",
			Data: status.Fail(status.E(status.KindInvalidInput, "question is empty")),
		})
		return
	}

	env := s.deps.Query.Query(r.Context(), req.Question)
	for _, step := range env.ReasoningSteps {
		if !s.wsSend(conn, wsMessage{Type: "step", Data: step}) {
			return
		}
	}
	s.wsSend(conn, wsMessage{Type: "result", Data: env})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteTimeout))
}

func (s *Server) wsSend(conn *websocket.Conn, msg wsMessage) bool {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debug("websocket write failed", zap.Error(err))
		return false
	}
	return true
}
