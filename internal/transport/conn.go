// Package transport is the client side of the chat service's event channel:
// Socket.IO over a single Engine.IO WebSocket, one physical connection per
// simulated user. It connects with gobwas/ws, completes the Engine.IO and
// namespace handshakes, keeps the heartbeat alive and turns inbound frames
// into typed protocol events delivered in arrival order.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/chat-loadgen/internal/protocol"
)

// eventBuffer bounds how many inbound events may queue up before the read
// loop waits for the consumer.
const eventBuffer = 64

// Config holds dial parameters for a single connection.
type Config struct {
	URL         string        // ws://host:port/socket.io/?EIO=4&transport=websocket
	EngineIO    int           // 3 or 4
	DialTimeout time.Duration // bounds the upgrade plus the Engine.IO open packet
	Logger      *slog.Logger
}

// URL builds the Socket.IO WebSocket endpoint for host and port.
func URL(host string, port int, path string, engineIO int) string {
	if path == "" {
		path = "/socket.io/"
	}
	q := url.Values{}
	q.Set("EIO", strconv.Itoa(engineIO))
	q.Set("transport", "websocket")
	u := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     path,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Conn is one Socket.IO channel. Emit is goroutine-safe; Events must be
// drained by a single consumer.
type Conn struct {
	conn      net.Conn
	src       io.Reader
	cfg       Config
	log       *slog.Logger
	writeMu   sync.Mutex
	events    chan protocol.Event
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	open      protocol.OpenPayload
	latency   time.Duration
}

// Dial connects to the endpoint and reads the Engine.IO open packet. The
// namespace handshake continues in the background; its completion is the
// first event on Events (protocol.Connected), or protocol.Error if the server
// refuses it.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.EngineIO == 0 {
		cfg.EngineIO = 4
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	start := time.Now()
	netConn, br, _, err := ws.Dial(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}

	// The server may have sent the open packet in the same segment as the
	// upgrade response; those bytes sit in br.
	var src io.Reader = netConn
	if br != nil {
		src = io.MultiReader(br, netConn)
	}

	c := &Conn{
		conn:   netConn,
		src:    src,
		cfg:    cfg,
		log:    log,
		events: make(chan protocol.Event, eventBuffer),
		done:   make(chan struct{}),
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetReadDeadline(deadline)
	}
	reader := NewFrameReader(src, netConn, &c.writeMu, ws.StateClientSide)
	if err := c.handshake(reader); err != nil {
		netConn.Close()
		if br != nil {
			ws.PutReader(br)
		}
		return nil, err
	}
	_ = netConn.SetReadDeadline(time.Time{})
	c.latency = time.Since(start)

	go c.readLoop(reader)
	if cfg.EngineIO == 3 {
		go c.pingLoop()
	}

	return c, nil
}

// handshake consumes the Engine.IO open packet and, for Engine.IO 4, asks to
// join the default namespace.
func (c *Conn) handshake(reader *FrameReader) error {
	data, err := reader.Next()
	if err != nil {
		return fmt.Errorf("transport: read open packet: %w", err)
	}
	p, err := protocol.ParsePacket(data)
	if err != nil {
		return fmt.Errorf("transport: open packet: %w", err)
	}
	if p.Engine != protocol.EngineOpen {
		return fmt.Errorf("transport: expected open packet, got %q", p.Engine)
	}
	if err := json.Unmarshal(p.Data, &c.open); err != nil {
		return fmt.Errorf("transport: decode open packet: %w", err)
	}

	// Engine.IO 3 servers join the default namespace unprompted.
	if c.cfg.EngineIO >= 4 {
		frame, _ := protocol.EncodeSocket(protocol.SocketConnect, nil)
		if err := c.write(frame); err != nil {
			return fmt.Errorf("transport: namespace connect: %w", err)
		}
	}
	return nil
}

// Emit sends a typed event to the server.
func (c *Conn) Emit(ev protocol.Outbound) error {
	frame, err := protocol.EncodeOutbound(ev)
	if err != nil {
		return err
	}
	if err := c.write(frame); err != nil {
		return fmt.Errorf("transport: emit %s: %w", ev.EventName(), err)
	}
	return nil
}

// Events returns the inbound event stream. It is closed once the connection
// is gone; the last event before that is protocol.Disconnect unless Close was
// called locally.
func (c *Conn) Events() <-chan protocol.Event {
	return c.events
}

// SID returns the Engine.IO session id assigned by the server.
func (c *Conn) SID() string {
	return c.open.SID
}

// Latency returns the time from dial to the Engine.IO open packet.
func (c *Conn) Latency() time.Duration {
	return c.latency
}

// Close sends the Socket.IO disconnect packet, a WebSocket close frame, and
// closes the socket. It is safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if frame, err := protocol.EncodeSocket(protocol.SocketDisconnect, nil); err == nil {
			_ = c.write(frame)
		}
		c.writeMu.Lock()
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Conn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientMessage(c.conn, ws.OpText, frame)
}

func (c *Conn) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// deliver hands an event to the consumer unless the connection is being
// closed locally.
func (c *Conn) deliver(ev protocol.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// readLoop reads frames until the connection fails or is closed, answering
// pings and translating Socket.IO packets into events.
func (c *Conn) readLoop(reader *FrameReader) {
	defer close(c.events)

	for {
		data, err := reader.Next()
		if err != nil {
			if c.closing() {
				return
			}
			reason := "transport close"
			var closed wsutil.ClosedError
			if !errors.As(err, &closed) && !errors.Is(err, io.EOF) {
				reason = "transport error"
				c.deliver(protocol.Error{Message: err.Error()})
			}
			c.deliver(protocol.Disconnect{Reason: reason})
			c.conn.Close()
			return
		}

		p, err := protocol.ParsePacket(data)
		if err != nil {
			c.log.Debug("transport: dropping frame", "err", err)
			continue
		}

		switch p.Engine {
		case protocol.EnginePing:
			// Engine.IO 4 heartbeat: the server pings, we pong.
			if err := c.write([]byte{protocol.EnginePong}); err != nil {
				c.log.Debug("transport: pong failed", "err", err)
			}
		case protocol.EngineClose:
			c.deliver(protocol.Disconnect{Reason: "transport close"})
			c.conn.Close()
			return
		case protocol.EngineMessage:
			if !c.handleSocket(p) {
				return
			}
		}
	}
}

// handleSocket dispatches one Socket.IO packet. It returns false when the
// consumer is gone.
func (c *Conn) handleSocket(p protocol.Packet) bool {
	if p.Namespace != "/" {
		return true
	}

	switch p.Socket {
	case protocol.SocketConnect:
		var payload protocol.Connected
		if len(p.Data) > 0 {
			_ = json.Unmarshal(p.Data, &payload)
		}
		if payload.SID == "" {
			payload.SID = c.open.SID
		}
		return c.deliver(payload)

	case protocol.SocketConnectError:
		ev, err := protocol.DecodeEvent(protocol.EventError, p.Data)
		if err != nil {
			ev = protocol.Error{Message: string(p.Data)}
		}
		return c.deliver(ev)

	case protocol.SocketDisconnect:
		return c.deliver(protocol.Disconnect{Reason: "io server disconnect"})

	case protocol.SocketEvent:
		name, arg, err := p.EventArgs()
		if err != nil {
			c.log.Debug("transport: bad event packet", "err", err)
			return true
		}
		ev, err := protocol.DecodeEvent(name, arg)
		if err != nil {
			c.log.Debug("transport: ignoring event", "event", name, "err", err)
			return true
		}
		return c.deliver(ev)
	}
	return true
}

// pingLoop drives the Engine.IO 3 heartbeat, where the client is the one
// pinging.
func (c *Conn) pingLoop() {
	interval := time.Duration(c.open.PingInterval) * time.Millisecond
	if interval <= 0 {
		interval = 25 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write([]byte{protocol.EnginePing}); err != nil {
				return
			}
		}
	}
}
