package diag

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// broadcastInterval is how often a stats snapshot is pushed to connected
// WebSocket clients.
const broadcastInterval = time.Second

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()

	go s.readPump(conn)
}

// readPump drains and discards client frames, noticing disconnects; diag
// clients are observers and have nothing to send besides pings/closes.
func (s *Server) readPump(conn *websocket.Conn) {
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
		conn.Close()
	}()
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// broadcastLoop pushes a stats snapshot to every connected client on
// broadcastInterval until the server is shut down (closing every client
// ends each writer's next write with an error).
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()
	for range ticker.C {
		snap := s.snapshot()

		s.clientsMu.Lock()
		dead := make([]*websocket.Conn, 0)
		for c := range s.clients {
			c.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.WriteJSON(snap); err != nil {
				dead = append(dead, c)
			}
		}
		for _, c := range dead {
			delete(s.clients, c)
			c.Close()
		}
		s.clientsMu.Unlock()
	}
}
