// Package roomserver is a small in-process implementation of the chat
// service's room protocol, spoken over Socket.IO on a gobwas/ws WebSocket.
// It gives the load generator a local target and its tests a real peer:
// load answers with the room occupancy, login joins a room and starts the
// chat once two people are in it, msg is relayed to the partner, and a
// disconnect tells the partner they were left alone.
package roomserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"

	"github.com/whisper/chat-loadgen/internal/protocol"
	"github.com/whisper/chat-loadgen/internal/transport"
)

// Config holds tunable parameters for the room server.
type Config struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	Path           string        // Socket.IO endpoint path
	PingInterval   time.Duration // Engine.IO heartbeat interval
	PingTimeout    time.Duration // grace after a missed heartbeat
	MaxConnections int           // hard cap on total connections
	Logger         *slog.Logger
}

// DefaultConfig returns a Config matching Socket.IO's own defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		Path:           "/socket.io/",
		PingInterval:   25 * time.Second,
		PingTimeout:    20 * time.Second,
		MaxConnections: 100000,
	}
}

// Server accepts WebSocket upgrades on Config.Path and runs one read loop per
// connection.
type Server struct {
	config     Config
	log        *slog.Logger
	conns      *ConnectionManager
	rooms      *Registry
	dispatcher *Dispatcher
	httpServer *http.Server
	done       chan struct{}
	stopOnce   sync.Once
	startedAt  time.Time
}

// New creates a Server and starts its heartbeat. Call Shutdown to stop it.
func New(config Config) *Server {
	def := DefaultConfig()
	if config.Path == "" {
		config.Path = def.Path
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = def.PingTimeout
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = def.MaxConnections
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		config:    config,
		log:       log,
		conns:     NewConnectionManager(),
		rooms:     NewRegistry(),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	s.dispatcher = NewDispatcher(s)
	s.registerHandlers()
	startHeartbeat(s)
	return s
}

// Handler returns the HTTP handler serving the Socket.IO endpoint and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start listens on Config.ListenAddr and blocks until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("roomserver: listening", "addr", s.config.ListenAddr, "path", s.config.Path,
		"max_conns", s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("roomserver: http server error: %w", err)
	}
	return nil
}

// handleUpgrade upgrades the request to a WebSocket, opens the Engine.IO
// session and starts the connection's read loop.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	if t := q.Get("transport"); t != "" && t != "websocket" {
		http.Error(w, "unsupported transport", http.StatusBadRequest)
		return
	}
	engineIO := 4
	if q.Get("EIO") == "3" {
		engineIO = 3
	}

	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn("roomserver: upgrade failed", "err", err)
		return
	}

	c := newConnection(uuid.NewString(), conn, engineIO)
	s.conns.Add(c)

	open, err := protocol.EncodeOpen(protocol.OpenPayload{
		SID:          c.ID,
		PingInterval: int(s.config.PingInterval / time.Millisecond),
		PingTimeout:  int(s.config.PingTimeout / time.Millisecond),
		MaxPayload:   1000000,
	})
	if err == nil {
		err = c.WriteMessage(open)
	}
	if err == nil && engineIO == 3 {
		// Engine.IO 3 clients are put in the default namespace unasked.
		var frame []byte
		if frame, err = protocol.EncodeSocket(protocol.SocketConnect, nil); err == nil {
			err = c.WriteMessage(frame)
		}
	}
	if err != nil {
		s.log.Warn("roomserver: open failed", "session", c.ID, "err", err)
		s.RemoveConnection(c)
		return
	}

	var src io.Reader = conn
	if rw != nil && rw.Reader.Buffered() > 0 {
		src = io.MultiReader(rw.Reader, conn)
	}
	go s.readLoop(c, src)

	s.log.Debug("roomserver: new connection", "session", c.ID, "eio", engineIO, "total", s.conns.Count())
}

// readLoop reads frames until the connection fails, then removes it.
func (s *Server) readLoop(c *Connection, src io.Reader) {
	reader := transport.NewFrameReader(src, c.Conn, &c.writeMu, ws.StateServerSide)
	for {
		data, err := reader.Next()
		if err != nil {
			s.RemoveConnection(c)
			return
		}
		c.touch()
		if len(data) == 0 {
			continue
		}
		s.dispatcher.Dispatch(c, data)
	}
}

// handleHealth responds with the server's health status as JSON.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Rooms       int    `json:"rooms"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Rooms:       s.rooms.Len(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// RemoveConnection closes a connection and, if it had joined a room, tells
// the partner it left. Safe to call more than once for the same connection.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}
	s.onDisconnect(c)
	s.log.Debug("roomserver: connection closed", "session", c.ID, "total", s.conns.Count())
}

// Connections returns the ConnectionManager.
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Rooms returns the room registry.
func (s *Server) Rooms() *Registry {
	return s.rooms
}

// Shutdown stops the heartbeat, the HTTP listener if Start was used, and
// closes every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.log.Info("roomserver: shutting down")
		close(s.done)

		if s.httpServer != nil {
			if serr := s.httpServer.Shutdown(ctx); serr != nil {
				err = fmt.Errorf("roomserver: http shutdown: %w", serr)
			}
		}
		for _, c := range s.conns.All() {
			s.RemoveConnection(c)
		}
	})
	return err
}
