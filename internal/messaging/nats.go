// Package messaging publishes session lifecycle events to NATS so a run can
// be followed live from outside the generator process. It handles the
// connection lifecycle and exposes a session.Reporter.
package messaging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/whisper/chat-loadgen/internal/session"
)

// NATS subject patterns.
const (
	SubjectSession = "loadgen.session" // + .<room_id>
	SubjectRun     = "loadgen.run"     // + .<run_id> (start and summary)
)

// Publisher wraps the NATS connection and publishes lifecycle events.
type Publisher struct {
	conn   *nats.Conn
	runID  string
	log    *slog.Logger
	failed atomic.Int64
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "loadgen",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: 10,
	}
}

// NewPublisher connects to NATS and returns a ready publisher. It returns an
// error if the initial connection fails.
func NewPublisher(config NATSConfig, runID string, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "err", err)
			} else {
				log.Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("nats connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: nats connect: %w", err)
	}

	log.Info("nats connected", "url", nc.ConnectedUrl())

	return &Publisher{conn: nc, runID: runID, log: log}, nil
}

// Report publishes a transition to loadgen.session.<room>. Failures are
// counted and logged at debug level; they never reach the session.
func (p *Publisher) Report(tr session.Transition) {
	data, err := json.Marshal(tr)
	if err != nil {
		p.failed.Add(1)
		return
	}
	subject := SubjectSession + "." + strconv.Itoa(tr.RoomID)
	if err := p.conn.Publish(subject, data); err != nil {
		p.failed.Add(1)
		p.log.Debug("nats publish failed", "subject", subject, "err", err)
	}
}

// RunEvent is published on loadgen.run.<run_id> at start and end of a run.
type RunEvent struct {
	RunID    string         `json:"run_id"`
	Phase    string         `json:"phase"` // "start" or "finish"
	Pairs    int            `json:"pairs"`
	Outcomes map[string]int `json:"outcomes,omitempty"`
	At       time.Time      `json:"at"`
}

// PublishRun publishes a run-level event.
func (p *Publisher) PublishRun(ev RunEvent) error {
	ev.RunID = p.runID
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("messaging: encode run event: %w", err)
	}
	return p.conn.Publish(SubjectRun+"."+p.runID, data)
}

// Failed returns how many publishes were dropped.
func (p *Publisher) Failed() int64 {
	return p.failed.Load()
}

// Close flushes pending messages and closes the NATS connection.
func (p *Publisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.log.Warn("nats connection drain", "err", err)
	}
	p.log.Info("nats publisher closed", "dropped", p.Failed())
}
