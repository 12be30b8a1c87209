package roomserver

import (
	"errors"

	"github.com/whisper/chat-loadgen/internal/protocol"
)

// EventHandler is the callback signature for a decoded client event. The ev
// parameter is the concrete struct returned by protocol.DecodeClientEvent
// (protocol.Load, protocol.Login or protocol.Msg).
type EventHandler func(conn *Connection, ev protocol.Outbound)

// Dispatcher routes incoming frames. Engine.IO heartbeats and the Socket.IO
// namespace handshake are handled internally; events go to the handler
// registered for their name.
type Dispatcher struct {
	handlers map[string]EventHandler
	server   *Server
}

// NewDispatcher creates a Dispatcher bound to the given server. The server
// reference is used to evict connections that ask to disconnect.
func NewDispatcher(server *Server) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]EventHandler),
		server:   server,
	}
}

// Register associates a handler with an event name. If a handler was already
// registered for the given name, it is silently replaced.
func (d *Dispatcher) Register(name string, handler EventHandler) {
	d.handlers[name] = handler
}

// Dispatch handles one text frame from conn.
func (d *Dispatcher) Dispatch(conn *Connection, data []byte) {
	log := d.server.log

	p, err := protocol.ParsePacket(data)
	if err != nil {
		log.Debug("roomserver: dropping frame", "session", conn.ID, "err", err)
		return
	}

	switch p.Engine {
	case protocol.EnginePing:
		// Engine.IO 3 heartbeat: the client pings, we pong.
		if err := conn.WriteMessage([]byte{protocol.EnginePong}); err != nil {
			log.Debug("roomserver: pong failed", "session", conn.ID, "err", err)
		}
	case protocol.EngineClose:
		d.server.RemoveConnection(conn)
	case protocol.EngineMessage:
		d.dispatchSocket(conn, p)
	}
}

func (d *Dispatcher) dispatchSocket(conn *Connection, p protocol.Packet) {
	log := d.server.log

	if p.Namespace != "/" {
		log.Debug("roomserver: ignoring namespace", "session", conn.ID, "nsp", p.Namespace)
		return
	}

	switch p.Socket {
	case protocol.SocketConnect:
		if conn.EngineIO < 4 {
			return // already connected during the upgrade
		}
		frame, err := protocol.EncodeSocket(protocol.SocketConnect, map[string]string{"sid": conn.ID})
		if err != nil {
			return
		}
		if err := conn.WriteMessage(frame); err != nil {
			log.Debug("roomserver: connect ack failed", "session", conn.ID, "err", err)
		}

	case protocol.SocketDisconnect:
		d.server.RemoveConnection(conn)

	case protocol.SocketEvent:
		name, arg, err := p.EventArgs()
		if err != nil {
			log.Debug("roomserver: bad event packet", "session", conn.ID, "err", err)
			return
		}
		ev, err := protocol.DecodeClientEvent(name, arg)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownEvent) {
				log.Debug("roomserver: unsupported event", "session", conn.ID, "event", name)
			} else {
				log.Warn("roomserver: malformed event", "session", conn.ID, "event", name, "err", err)
			}
			return
		}
		handler, ok := d.handlers[name]
		if !ok {
			log.Debug("roomserver: no handler", "session", conn.ID, "event", name)
			return
		}
		handler(conn, ev)
	}
}
