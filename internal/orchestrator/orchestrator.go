// Package orchestrator builds and launches the simulated chat population: N
// pairs of sessions, each pair sharing a freshly drawn room id, launched in
// random order with one goroutine per session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/whisper/chat-loadgen/internal/content"
	"github.com/whisper/chat-loadgen/internal/session"
)

// DefaultPairs is the pair count used when none, or an unusable one, is given.
const DefaultPairs = 10

// ErrRoomRange is returned when the room id range cannot supply a distinct id
// for every pair.
var ErrRoomRange = errors.New("orchestrator: room id range too small")

// ParsePairCount turns the optional command-line argument into a pair count.
// An empty argument means def; anything that is not a positive integer is
// logged as a warning and also means def.
func ParsePairCount(arg string, def int, log *slog.Logger) int {
	if arg == "" {
		return def
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n <= 0 {
		if log == nil {
			log = slog.Default()
		}
		log.Warn("invalid pair count, using default", "arg", arg, "default", def)
		return def
	}
	return n
}

// RoomReserver claims a room id outside this process. Reserve returns false
// when the id is already taken elsewhere.
type RoomReserver interface {
	Reserve(ctx context.Context, roomID int) (bool, error)
}

// Config controls the population shape.
type Config struct {
	Pairs       int
	RoomMin     int // inclusive
	RoomMax     int // exclusive
	MinMessages int
	MaxMessages int
}

// DefaultConfig returns the stock population: ten pairs, room ids in
// [10000, 1000000), one to five messages per participant.
func DefaultConfig() Config {
	return Config{
		Pairs:       DefaultPairs,
		RoomMin:     10000,
		RoomMax:     1000000,
		MinMessages: 1,
		MaxMessages: 5,
	}
}

// QueueFunc produces a participant's complete outgoing message queue.
type QueueFunc func(starter bool) []string

// Summary tallies a finished run.
type Summary struct {
	Sessions int
	Outcomes map[session.Outcome]int
	Sent     int
	Received int
	Elapsed  time.Duration
}

// Orchestrator owns the session list. It is built once, shuffled, launched
// and waited on; it is not reusable.
type Orchestrator struct {
	cfg      Config
	content  *content.Provider
	dial     session.DialFunc
	pacer    session.Pacer
	reserver RoomReserver
	queues   QueueFunc
	log      *slog.Logger
	sessOpts []session.Option

	sessions []*session.Session
	roomIDs  []int

	wg        sync.WaitGroup
	mu        sync.Mutex
	results   []session.Result
	startedAt time.Time
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used by the orchestrator and its sessions.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithReserver makes room ids unique across processes sharing the reserver.
func WithReserver(r RoomReserver) Option {
	return func(o *Orchestrator) { o.reserver = r }
}

// WithReporter forwards every session's state transitions to r.
func WithReporter(r session.Reporter) Option {
	return func(o *Orchestrator) { o.sessOpts = append(o.sessOpts, session.WithReporter(r)) }
}

// WithQueues replaces the random message queues.
func WithQueues(fn QueueFunc) Option {
	return func(o *Orchestrator) { o.queues = fn }
}

// New creates an orchestrator. provider supplies every random draw; dial and
// pacer are handed to each session.
func New(cfg Config, provider *content.Provider, dial session.DialFunc, pacer session.Pacer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		content: provider,
		dial:    dial,
		pacer:   pacer,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.queues == nil {
		o.queues = o.randomQueue
	}
	return o
}

func (o *Orchestrator) randomQueue(bool) []string {
	return o.content.Sentences(o.content.IntRange(o.cfg.MinMessages, o.cfg.MaxMessages))
}

// Build creates every pair: a starter and a responder sharing a room id that
// no other pair in this run uses.
func (o *Orchestrator) Build(ctx context.Context) error {
	if o.cfg.Pairs <= 0 {
		return fmt.Errorf("orchestrator: pair count %d must be positive", o.cfg.Pairs)
	}
	if o.cfg.RoomMax-o.cfg.RoomMin < o.cfg.Pairs {
		return fmt.Errorf("%w: %d ids for %d pairs", ErrRoomRange, o.cfg.RoomMax-o.cfg.RoomMin, o.cfg.Pairs)
	}

	seen := make(map[int]struct{}, o.cfg.Pairs)
	o.sessions = make([]*session.Session, 0, 2*o.cfg.Pairs)
	o.roomIDs = make([]int, 0, o.cfg.Pairs)

	for i := 0; i < o.cfg.Pairs; i++ {
		roomID, err := o.drawRoom(ctx, seen)
		if err != nil {
			return err
		}
		o.roomIDs = append(o.roomIDs, roomID)
		o.sessions = append(o.sessions,
			o.newSession(roomID, true),
			o.newSession(roomID, false),
		)
	}
	return nil
}

// drawRoom redraws until it finds an id unused in this run and, with a
// reserver, not held by another run.
func (o *Orchestrator) drawRoom(ctx context.Context, seen map[int]struct{}) (int, error) {
	span := o.cfg.RoomMax - o.cfg.RoomMin
	maxAttempts := 100*o.cfg.Pairs + 1000
	if maxAttempts < 4*span {
		// Small ranges need enough draws to find the last free ids.
		maxAttempts = 4 * span
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		id := o.content.IntRange(o.cfg.RoomMin, o.cfg.RoomMax-1)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if o.reserver == nil {
			return id, nil
		}
		ok, err := o.reserver.Reserve(ctx, id)
		if err != nil {
			o.log.Warn("room reservation failed", "room", id, "err", err)
		}
		if ok {
			return id, nil
		}
		o.log.Debug("room held by another run", "room", id)
	}
	return 0, fmt.Errorf("%w: no free id after %d draws", ErrRoomRange, maxAttempts)
}

func (o *Orchestrator) newSession(roomID int, starter bool) *session.Session {
	name := o.content.FirstName()
	opts := append([]session.Option{session.WithLogger(o.log)}, o.sessOpts...)
	return session.New(session.Config{
		RoomID:   roomID,
		Name:     name,
		Handle:   o.content.Handle(name),
		Starter:  starter,
		Messages: o.queues(starter),
	}, o.dial, o.pacer, opts...)
}

// Sessions returns the built sessions in their current order.
func (o *Orchestrator) Sessions() []*session.Session {
	return o.sessions
}

// RoomIDs returns the room ids drawn by Build, one per pair.
func (o *Orchestrator) RoomIDs() []int {
	return o.roomIDs
}

// Shuffle puts the sessions in uniformly random launch order.
func (o *Orchestrator) Shuffle() {
	content.Shuffle(o.content, o.sessions)
}

// Launch starts every session on its own goroutine, in list order, and
// returns immediately.
func (o *Orchestrator) Launch(ctx context.Context) {
	o.startedAt = time.Now()
	for _, s := range o.sessions {
		o.wg.Add(1)
		go func(s *session.Session) {
			defer o.wg.Done()
			res := s.Run(ctx)
			o.mu.Lock()
			o.results = append(o.results, res)
			o.mu.Unlock()
		}(s)
	}
}

// Run builds, shuffles and launches the population. Use Wait to block until
// every session has finished.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Build(ctx); err != nil {
		return err
	}
	o.log.Info("sessions built", "count", len(o.sessions))
	o.Shuffle()
	o.log.Info("sessions shuffled", "count", len(o.sessions))
	o.Launch(ctx)
	return nil
}

// Wait blocks until every launched session has returned and tallies them.
func (o *Orchestrator) Wait() Summary {
	o.wg.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	sum := Summary{
		Sessions: len(o.results),
		Outcomes: make(map[session.Outcome]int),
		Elapsed:  time.Since(o.startedAt),
	}
	for _, r := range o.results {
		sum.Outcomes[r.Outcome]++
		sum.Sent += r.Sent
		sum.Received += r.Received
	}
	return sum
}
