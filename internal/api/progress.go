package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/wildscope/wildscope/internal/progress"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleProgress upgrades the connection and subscribes it to pipeline
// events until the peer goes away.
func handleProgress(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "error", err)
			return
		}
		deps.Hub.Register(conn)
		go discardReads(deps.Hub, conn)
	}
}

// discardReads drains client frames so control messages are handled and
// closed connections unregister promptly.
func discardReads(hub *progress.Hub, conn *websocket.Conn) {
	defer hub.Unregister(conn)
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
