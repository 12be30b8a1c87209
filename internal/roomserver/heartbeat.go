package roomserver

import (
	"time"

	"github.com/whisper/chat-loadgen/internal/protocol"
)

// startHeartbeat begins a background goroutine that periodically sends
// Engine.IO pings to revision 4 clients and evicts connections that have gone
// stale (no frame within PingInterval + PingTimeout). Revision 3 clients ping
// on their own and are only checked for staleness. The goroutine exits when
// the server's done channel is closed.
func startHeartbeat(server *Server) {
	go func() {
		ticker := time.NewTicker(server.config.PingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkConnections(server)
			}
		}
	}()
}

func checkConnections(server *Server) {
	deadline := server.config.PingInterval + server.config.PingTimeout
	now := time.Now()

	for _, c := range server.Connections().All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			server.log.Info("roomserver: heartbeat timeout", "session", c.ID, "idle", idle.Round(time.Millisecond))
			server.RemoveConnection(c)
			continue
		}
		if c.EngineIO < 4 {
			continue
		}
		if err := c.WriteMessage([]byte{protocol.EnginePing}); err != nil {
			server.log.Info("roomserver: heartbeat ping failed", "session", c.ID, "err", err)
			server.RemoveConnection(c)
		}
	}
}
