package roomserver

import (
	"errors"

	"github.com/whisper/chat-loadgen/internal/protocol"
)

// eventImg is the avatar echo the chat service sends after a login. Clients
// of this server are free to ignore it.
const eventImg = "img"

func (s *Server) registerHandlers() {
	s.dispatcher.Register(protocol.EventLoad, s.onLoad)
	s.dispatcher.Register(protocol.EventLogin, s.onLogin)
	s.dispatcher.Register(protocol.EventMsg, s.onMsg)
}

// onLoad reports how many people are in the room. With exactly one, the
// waiting person's details are included.
func (s *Server) onLoad(c *Connection, ev protocol.Outbound) {
	load := ev.(protocol.Load)
	members := s.rooms.Members(load.RoomID)

	status := protocol.PeopleInChat{Number: len(members)}
	if len(members) == 1 {
		status.User = members[0].User
		status.Avatar = members[0].Avatar
		status.ID = load.RoomID
	}
	s.emit(c, protocol.EventPeopleInChat, status)

	if len(members) >= RoomCapacity {
		s.emit(c, protocol.EventTooMany, protocol.TooMany{Boolean: true})
	}
}

// onLogin joins the room and, once it holds two people, starts the chat for
// both of them.
func (s *Server) onLogin(c *Connection, ev protocol.Outbound) {
	login := ev.(protocol.Login)

	members, err := s.rooms.Join(login.ID, Member{Conn: c, User: login.User, Avatar: login.Avatar})
	if errors.Is(err, ErrRoomFull) {
		s.emit(c, protocol.EventTooMany, protocol.TooMany{Boolean: true})
		return
	}
	s.emit(c, eventImg, login.Avatar)

	if len(members) < RoomCapacity {
		return
	}

	start := protocol.StartChat{Boolean: true, ID: login.ID}
	for _, m := range members {
		start.Users = append(start.Users, m.User)
		start.Avatars = append(start.Avatars, m.Avatar)
	}
	for _, m := range members {
		s.emit(m.Conn, protocol.EventStartChat, start)
	}
	s.log.Debug("roomserver: chat started", "room", login.ID)
}

// onMsg relays a message to the sender's partner. Invalid text is bounced
// back to the sender as an error event.
func (s *Server) onMsg(c *Connection, ev protocol.Outbound) {
	msg := ev.(protocol.Msg)
	if err := ValidateMessage(msg.Msg); err != nil {
		s.emit(c, protocol.EventError, protocol.Error{Message: err.Error()})
		return
	}
	for _, m := range s.rooms.Partners(c.ID) {
		s.emit(m.Conn, protocol.EventReceive, protocol.Receive{Msg: msg.Msg, User: msg.User, Img: msg.Img})
	}
}

// onDisconnect tells whoever is left in the room that c is gone.
func (s *Server) onDisconnect(c *Connection) {
	left, roomID, rest, ok := s.rooms.Leave(c.ID)
	if !ok {
		return
	}
	for _, m := range rest {
		s.emit(m.Conn, protocol.EventLeave, protocol.Leave{
			Boolean: true,
			Room:    roomID,
			User:    left.User,
			Avatar:  left.Avatar,
		})
	}
}

func (s *Server) emit(c *Connection, name string, payload any) {
	if err := c.Emit(name, payload); err != nil {
		s.log.Debug("roomserver: emit failed", "session", c.ID, "event", name, "err", err)
	}
}
