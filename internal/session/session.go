// Package session simulates one chat participant. A Session owns a single
// transport connection and a pre-filled queue of messages, and walks the
// chat service's room protocol until the conversation with its partner is
// over.
//
// All of a session's state is confined to the goroutine running Run. Inbound
// events and fired timers are both received on channels by that goroutine,
// so handlers never race each other and the connection is closed at most
// once.
package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/chat-loadgen/internal/metrics"
	"github.com/whisper/chat-loadgen/internal/protocol"
)

// Conn is the transport surface a session drives.
type Conn interface {
	Emit(ev protocol.Outbound) error
	Events() <-chan protocol.Event
	Close() error
}

// DialFunc opens a new connection for a session.
type DialFunc func(ctx context.Context) (Conn, error)

// Pacer supplies the randomized think time before each delayed action.
type Pacer interface {
	Delay() time.Duration
}

// Config describes one participant.
type Config struct {
	ID       string // generated when empty
	RoomID   int
	Name     string
	Handle   string
	Starter  bool
	Messages []string
}

// Session is one simulated participant. Build it with New and drive it with
// Run; a Session is never restarted.
type Session struct {
	id      string
	roomID  int
	name    string
	handle  string
	starter bool

	queue []string
	ready bool
	state atomic.Int32

	dial     DialFunc
	pacer    Pacer
	reporter Reporter
	log      *slog.Logger

	conn         Conn
	fired        chan action
	done         chan struct{}
	pending      int
	streamEnded  bool
	closed       bool
	outcome      Outcome
	sent         int
	received     int
	queuedAtInit int
}

// Option customises a Session.
type Option func(*Session)

// WithLogger sets the logger; session attributes are added to it.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithReporter sets the sink for state transitions.
func WithReporter(r Reporter) Option {
	return func(s *Session) { s.reporter = r }
}

// New builds a session with its complete outgoing queue. The queue is copied
// and never grows afterwards.
func New(cfg Config, dial DialFunc, pacer Pacer, opts ...Option) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	s := &Session{
		id:           cfg.ID,
		roomID:       cfg.RoomID,
		name:         cfg.Name,
		handle:       cfg.Handle,
		starter:      cfg.Starter,
		queue:        append([]string(nil), cfg.Messages...),
		queuedAtInit: len(cfg.Messages),
		dial:         dial,
		pacer:        pacer,
		reporter:     nopReporter{},
		log:          slog.Default(),
		fired:        make(chan action),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session", s.id, "room", s.roomID, "user", s.name)
	return s
}

// ID returns the session's generated identifier.
func (s *Session) ID() string { return s.id }

// RoomID returns the room shared with the partner.
func (s *Session) RoomID() int { return s.roomID }

// Name returns the display name.
func (s *Session) Name() string { return s.name }

// Handle returns the contact handle sent as the avatar.
func (s *Session) Handle() string { return s.handle }

// Starter reports whether this participant sends the first message.
func (s *Session) Starter() bool { return s.starter }

// QueueLen returns the number of messages queued at construction.
func (s *Session) QueueLen() int { return s.queuedAtInit }

// State returns the current state. It is safe to call while Run is active.
func (s *Session) State() State { return State(s.state.Load()) }

// Run drives the session until its connection is closed, the event stream
// ends with nothing left to do, or ctx is cancelled. A rejected session keeps
// its connection open and only returns on cancellation or disconnect.
func (s *Session) Run(ctx context.Context) Result {
	defer close(s.done)

	metrics.SessionsStarted.Inc()
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	s.transition(StateConnecting)
	s.log.Info("initializing")

	start := time.Now()
	conn, err := s.dial(ctx)
	if err != nil {
		s.log.Error("connect failed", "err", err)
		return s.finish(OutcomeFailed)
	}
	metrics.ConnectLatency.Observe(time.Since(start).Seconds())
	s.conn = conn

	events := conn.Events()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("run cancelled")
			s.close()
			return s.finish(OutcomeCancelled)

		case ev, ok := <-events:
			if !ok {
				events = nil
				s.streamEnded = true
				break
			}
			s.dispatch(ev)

		case act := <-s.fired:
			s.pending--
			s.perform(act)
		}

		if s.closed {
			return s.finish(OutcomeCompleted)
		}
		if s.streamEnded && s.pending == 0 {
			// Nothing can wake this session up again.
			s.close()
			return s.finish(OutcomeDropped)
		}
	}
}

// finish records the outcome. A rejection sticks even if the session later
// ends another way.
func (s *Session) finish(o Outcome) Result {
	if s.outcome == "" {
		s.outcome = o
	}
	metrics.SessionsFinished.WithLabelValues(string(s.outcome)).Inc()
	return Result{
		SessionID: s.id,
		RoomID:    s.roomID,
		Starter:   s.starter,
		Outcome:   s.outcome,
		Sent:      s.sent,
		Received:  s.received,
		Remaining: len(s.queue),
	}
}

// ---------------------------------------------------------------------------
// Event dispatch, one handler per state
// ---------------------------------------------------------------------------

func (s *Session) dispatch(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.Error:
		s.log.Warn("error!", "err", e.Message)
		return
	case protocol.Disconnect:
		s.log.Info("disconnecting", "reason", e.Reason)
		return
	case protocol.TooMany:
		s.log.Info("room reported too many people")
		return
	}

	switch s.State() {
	case StateConnecting:
		s.onConnecting(ev)
	case StateAwaitingRoomStatus:
		s.onAwaitingRoomStatus(ev)
	case StateLoggingIn, StateAwaitingStart, StateExchanging:
		s.onChatting(ev)
	case StateRejected, StateLeaving, StateClosed:
		s.log.Debug("ignoring event", "event", ev.EventName(), "state", s.State())
	}
}

func (s *Session) onConnecting(ev protocol.Event) {
	if _, ok := ev.(protocol.Connected); !ok {
		s.log.Debug("ignoring event", "event", ev.EventName(), "state", s.State())
		return
	}
	s.log.Info("connecting")
	s.transition(StateAwaitingRoomStatus)
	if err := s.conn.Emit(protocol.Load{RoomID: s.roomID}); err != nil {
		s.log.Warn("join room failed", "err", err)
	}
}

func (s *Session) onAwaitingRoomStatus(ev protocol.Event) {
	pic, ok := ev.(protocol.PeopleInChat)
	if !ok {
		s.log.Debug("ignoring event", "event", ev.EventName(), "state", s.State())
		return
	}
	s.log.Info("received peopleinchat event", "number", pic.Number)

	if pic.Number > 1 {
		s.log.Info("too many people")
		s.outcome = OutcomeRejected
		s.transition(StateRejected)
		return
	}

	s.log.Info("logging in")
	s.transition(StateLoggingIn)
	if err := s.conn.Emit(protocol.Login{User: s.name, Avatar: s.handle, ID: s.roomID}); err != nil {
		s.log.Warn("login failed", "err", err)
		return
	}
	s.transition(StateAwaitingStart)
}

func (s *Session) onChatting(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.StartChat:
		s.log.Info("received startChat event")
		if s.State() != StateExchanging {
			s.transition(StateExchanging)
		}
		if s.starter {
			s.schedule(actArm)
		}

	case protocol.Receive:
		s.received++
		metrics.MessagesTotal.WithLabelValues(metrics.DirectionReceived).Inc()
		s.log.Info("received message", "from", e.User, "msg", e.Msg)
		if s.State() != StateExchanging {
			s.transition(StateExchanging)
		}
		s.schedule(actArm)

	case protocol.Leave:
		s.log.Info("partner left")
		s.transition(StateLeaving)
		s.schedule(actTeardown)

	default:
		s.log.Debug("ignoring event", "event", ev.EventName(), "state", s.State())
	}
}

// ---------------------------------------------------------------------------
// Delayed actions
// ---------------------------------------------------------------------------

type action int

const (
	actArm          action = iota // ready = true, then send-next
	actTeardown                   // partner left: ready = false, close
	actDrainedClose               // queue empty: close
)

// schedule arms a timer that hands the action back to the Run goroutine after
// a randomized delay.
func (s *Session) schedule(a action) {
	s.pending++
	time.AfterFunc(s.pacer.Delay(), func() {
		select {
		case s.fired <- a:
		case <-s.done:
		}
	})
}

func (s *Session) perform(a action) {
	if s.closed {
		return
	}
	switch a {
	case actArm:
		s.ready = true
		s.sendNext()
	case actTeardown:
		s.ready = false
		s.close()
	case actDrainedClose:
		s.log.Info("closing")
		s.close()
	}
}

// sendNext is the only place messages leave the queue. ready is left as the
// caller set it; the next inbound event re-arms it.
func (s *Session) sendNext() {
	if len(s.queue) == 0 {
		if s.State() != StateLeaving {
			s.transition(StateLeaving)
		}
		s.schedule(actDrainedClose)
		return
	}
	if !s.ready {
		return
	}

	msg := s.queue[0]
	s.queue = s.queue[1:]
	s.log.Info("sending message", "msg", msg)
	if err := s.conn.Emit(protocol.Msg{Msg: msg, User: s.name}); err != nil {
		s.log.Warn("send failed", "err", err)
		return
	}
	s.sent++
	metrics.MessagesTotal.WithLabelValues(metrics.DirectionSent).Inc()
}

// close releases the connection exactly once.
func (s *Session) close() {
	if s.closed {
		return
	}
	s.closed = true
	s.transition(StateClosed)
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.log.Debug("close", "err", err)
	}
}

func (s *Session) transition(to State) {
	from := State(s.state.Swap(int32(to)))
	s.log.Debug("state", "from", from, "to", to)
	s.reporter.Report(Transition{
		SessionID: s.id,
		RoomID:    s.roomID,
		User:      s.name,
		Starter:   s.starter,
		From:      from.String(),
		To:        to.String(),
		At:        time.Now(),
	})
}
