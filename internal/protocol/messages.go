// Package protocol defines the named Socket.IO events exchanged with the chat
// service and their payload structures. Inbound events are decoded into
// concrete types implementing Event so handlers can switch on the type rather
// than poke at untyped maps; outbound events implement Outbound and know their
// own wire name.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event name constants
// ---------------------------------------------------------------------------

// Client -> Server event names.
const (
	EventLoad  = "load"
	EventLogin = "login"
	EventMsg   = "msg"
)

// Server -> Client event names.
const (
	EventPeopleInChat = "peopleinchat"
	EventStartChat    = "startChat"
	EventReceive      = "receive"
	EventLeave        = "leave"
	EventTooMany      = "tooMany"
	EventError        = "error"
)

// Local notifications raised by the transport rather than sent by the server.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// ---------------------------------------------------------------------------
// Outbound (client -> server) events
// ---------------------------------------------------------------------------

// Outbound is an event the client emits to the server.
type Outbound interface {
	EventName() string
}

// Load asks the server how many people are in a room. It is encoded as the
// bare room id, not an object.
type Load struct {
	RoomID int
}

// EventName implements Outbound.
func (Load) EventName() string { return EventLoad }

// MarshalJSON encodes the room id as a raw integer.
func (l Load) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.RoomID)
}

// UnmarshalJSON decodes a raw integer room id.
func (l *Load) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &l.RoomID)
}

// Login joins a room under a display name and avatar handle.
type Login struct {
	User   string `json:"user"`
	Avatar string `json:"avatar"`
	ID     int    `json:"id"`
}

// EventName implements Outbound.
func (Login) EventName() string { return EventLogin }

// Msg sends a chat line to the partner. Img is always empty for generated
// traffic but the server expects the key to be present.
type Msg struct {
	Msg  string `json:"msg"`
	User string `json:"user"`
	Img  string `json:"img"`
}

// EventName implements Outbound.
func (Msg) EventName() string { return EventMsg }

// ---------------------------------------------------------------------------
// Inbound (server -> client) events
// ---------------------------------------------------------------------------

// Event is an inbound notification delivered to a session.
type Event interface {
	EventName() string
}

// Connected is raised once the namespace handshake completes.
type Connected struct {
	SID string `json:"sid"`
}

// EventName implements Event.
func (Connected) EventName() string { return EventConnect }

// PeopleInChat reports room occupancy in answer to Load. When one person is
// already waiting the server also describes them.
type PeopleInChat struct {
	Number int    `json:"number"`
	User   string `json:"user,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	ID     int    `json:"id,omitempty"`
}

// EventName implements Event.
func (PeopleInChat) EventName() string { return EventPeopleInChat }

// StartChat is sent to both participants once the room holds two people.
type StartChat struct {
	Boolean bool     `json:"boolean,omitempty"`
	ID      int      `json:"id,omitempty"`
	Users   []string `json:"users,omitempty"`
	Avatars []string `json:"avatars,omitempty"`
}

// EventName implements Event.
func (StartChat) EventName() string { return EventStartChat }

// Receive relays a message from the partner.
type Receive struct {
	Msg  string `json:"msg"`
	User string `json:"user"`
	Img  string `json:"img"`
}

// EventName implements Event.
func (Receive) EventName() string { return EventReceive }

// Leave tells the remaining participant that the partner is gone.
type Leave struct {
	Boolean bool   `json:"boolean,omitempty"`
	Room    int    `json:"room,omitempty"`
	User    string `json:"user,omitempty"`
	Avatar  string `json:"avatar,omitempty"`
}

// EventName implements Event.
func (Leave) EventName() string { return EventLeave }

// TooMany is sent instead of admitting a third participant.
type TooMany struct {
	Boolean bool `json:"boolean"`
}

// EventName implements Event.
func (TooMany) EventName() string { return EventTooMany }

// Error carries a server-side or transport-level failure.
type Error struct {
	Message string `json:"message"`
}

// EventName implements Event.
func (Error) EventName() string { return EventError }

// Disconnect is raised when the channel goes away.
type Disconnect struct {
	Reason string `json:"reason"`
}

// EventName implements Event.
func (Disconnect) EventName() string { return EventDisconnect }

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// DecodeEvent decodes the argument of a server-sent event into its typed
// payload. A missing argument decodes to the zero payload. Unknown event names
// return ErrUnknownEvent wrapped with the name.
func DecodeEvent(name string, arg json.RawMessage) (Event, error) {
	var (
		ev  Event
		err error
	)

	switch name {
	case EventPeopleInChat:
		var m PeopleInChat
		err = decodeArg(arg, &m)
		ev = m
	case EventStartChat:
		var m StartChat
		err = decodeArg(arg, &m)
		ev = m
	case EventReceive:
		var m Receive
		err = decodeArg(arg, &m)
		ev = m
	case EventLeave:
		var m Leave
		err = decodeArg(arg, &m)
		ev = m
	case EventTooMany:
		var m TooMany
		err = decodeArg(arg, &m)
		ev = m
	case EventError:
		ev, err = decodeError(arg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}

	if err != nil {
		return nil, fmt.Errorf("protocol: failed to decode %q payload: %w", name, err)
	}
	return ev, nil
}

// DecodeClientEvent is the server-side counterpart of DecodeEvent, used by the
// reference room server.
func DecodeClientEvent(name string, arg json.RawMessage) (Outbound, error) {
	var (
		ev  Outbound
		err error
	)

	switch name {
	case EventLoad:
		var m Load
		err = decodeArg(arg, &m)
		ev = m
	case EventLogin:
		var m Login
		err = decodeArg(arg, &m)
		ev = m
	case EventMsg:
		var m Msg
		err = decodeArg(arg, &m)
		ev = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}

	if err != nil {
		return nil, fmt.Errorf("protocol: failed to decode %q payload: %w", name, err)
	}
	return ev, nil
}

func decodeArg(arg json.RawMessage, v any) error {
	if len(arg) == 0 || string(arg) == "null" {
		return nil
	}
	return json.Unmarshal(arg, v)
}

// decodeError accepts both {"message": "..."} objects and bare strings, since
// servers emit either.
func decodeError(arg json.RawMessage) (Event, error) {
	if len(arg) == 0 {
		return Error{}, nil
	}
	var s string
	if err := json.Unmarshal(arg, &s); err == nil {
		return Error{Message: s}, nil
	}
	var m Error
	if err := json.Unmarshal(arg, &m); err != nil {
		return nil, err
	}
	return m, nil
}
