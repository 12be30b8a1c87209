package orchestrator

import (
	"context"

	"github.com/whisper/chat-loadgen/internal/session"
	"github.com/whisper/chat-loadgen/internal/transport"
)

// TransportDialer returns a session.DialFunc that opens a Socket.IO channel
// per session.
func TransportDialer(cfg transport.Config) session.DialFunc {
	return func(ctx context.Context) (session.Conn, error) {
		c, err := transport.Dial(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
