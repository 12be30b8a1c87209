package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Engine.IO packet types, the first byte of every text frame.
const (
	EngineOpen    byte = '0'
	EngineClose   byte = '1'
	EnginePing    byte = '2'
	EnginePong    byte = '3'
	EngineMessage byte = '4'
	EngineUpgrade byte = '5'
	EngineNoop    byte = '6'
)

// Socket.IO packet types, the second byte of an Engine.IO message.
const (
	SocketConnect      byte = '0'
	SocketDisconnect   byte = '1'
	SocketEvent        byte = '2'
	SocketAck          byte = '3'
	SocketConnectError byte = '4'
	SocketBinaryEvent  byte = '5'
	SocketBinaryAck    byte = '6'
)

var (
	// ErrEmptyPacket is returned for zero-length frames.
	ErrEmptyPacket = errors.New("protocol: empty packet")

	// ErrUnknownPacket is returned for packet types outside the Engine.IO or
	// Socket.IO tables.
	ErrUnknownPacket = errors.New("protocol: unknown packet type")

	// ErrUnknownEvent is returned by DecodeEvent for names it does not model.
	ErrUnknownEvent = errors.New("protocol: unknown event")
)

// Packet is one decoded text frame. Socket, Namespace, AckID and Data are only
// meaningful when Engine is EngineMessage; for EngineOpen, Data holds the
// handshake JSON.
type Packet struct {
	Engine    byte
	Socket    byte
	Namespace string
	AckID     int // -1 when absent
	Data      json.RawMessage
}

// OpenPayload is the Engine.IO handshake sent by the server right after the
// WebSocket upgrade. Intervals are in milliseconds.
type OpenPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload,omitempty"`
}

// ParsePacket decodes a raw text frame.
func ParsePacket(frame []byte) (Packet, error) {
	if len(frame) == 0 {
		return Packet{}, ErrEmptyPacket
	}

	p := Packet{Engine: frame[0], AckID: -1}
	switch p.Engine {
	case EngineOpen, EngineClose, EnginePing, EnginePong, EngineUpgrade, EngineNoop:
		if len(frame) > 1 {
			p.Data = json.RawMessage(frame[1:])
		}
		return p, nil
	case EngineMessage:
	default:
		return Packet{}, fmt.Errorf("%w: engine %q", ErrUnknownPacket, p.Engine)
	}

	rest := frame[1:]
	if len(rest) == 0 {
		return Packet{}, fmt.Errorf("%w: message without socket type", ErrUnknownPacket)
	}
	p.Socket = rest[0]
	if p.Socket < SocketConnect || p.Socket > SocketBinaryAck {
		return Packet{}, fmt.Errorf("%w: socket %q", ErrUnknownPacket, p.Socket)
	}
	rest = rest[1:]

	// Binary packets carry an attachment count terminated by '-'.
	if p.Socket == SocketBinaryEvent || p.Socket == SocketBinaryAck {
		if i := bytes.IndexByte(rest, '-'); i >= 0 {
			rest = rest[i+1:]
		}
	}

	p.Namespace = "/"
	if len(rest) > 0 && rest[0] == '/' {
		end := bytes.IndexByte(rest, ',')
		if end < 0 {
			p.Namespace = string(rest)
			return p, nil
		}
		p.Namespace = string(rest[:end])
		rest = rest[end+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(string(rest[:digits]))
		if err != nil {
			return Packet{}, fmt.Errorf("protocol: bad ack id: %w", err)
		}
		p.AckID = id
		rest = rest[digits:]
	}

	if len(rest) > 0 {
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// EventArgs splits the data of a SocketEvent packet into the event name and
// its first argument. Additional arguments are ignored.
func (p Packet) EventArgs() (string, json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(p.Data, &args); err != nil {
		return "", nil, fmt.Errorf("protocol: event data is not an array: %w", err)
	}
	if len(args) == 0 {
		return "", nil, fmt.Errorf("protocol: event without name")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("protocol: event name is not a string: %w", err)
	}
	if len(args) < 2 {
		return name, nil, nil
	}
	return name, args[1], nil
}

// EncodeEvent builds a `42["name",payload]` frame for the default namespace.
// A nil payload produces an event without arguments.
func EncodeEvent(name string, payload any) ([]byte, error) {
	args := []any{name}
	if payload != nil {
		args = append(args, payload)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %q event: %w", name, err)
	}
	out := make([]byte, 0, len(body)+2)
	out = append(out, EngineMessage, SocketEvent)
	return append(out, body...), nil
}

// EncodeOutbound is EncodeEvent for a typed client event.
func EncodeOutbound(ev Outbound) ([]byte, error) {
	return EncodeEvent(ev.EventName(), ev)
}

// EncodeSocket builds a bare Socket.IO control packet such as "40" or
// `40{"sid":"..."}`.
func EncodeSocket(socketType byte, payload any) ([]byte, error) {
	out := []byte{EngineMessage, socketType}
	if payload == nil {
		return out, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal socket packet: %w", err)
	}
	return append(out, body...), nil
}

// EncodeOpen builds the Engine.IO handshake frame.
func EncodeOpen(open OpenPayload) ([]byte, error) {
	if open.Upgrades == nil {
		open.Upgrades = []string{}
	}
	body, err := json.Marshal(open)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal open packet: %w", err)
	}
	return append([]byte{EngineOpen}, body...), nil
}
