package transport

import (
	"io"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// FrameReader reads data frames from a WebSocket stream. Control frames are
// answered inline; the answer is written while holding the same mutex the
// owner uses for its own writes, so a pong never lands in the middle of an
// outbound message.
type FrameReader struct {
	rd  wsutil.Reader
	ctl wsutil.FrameHandlerFunc
}

// NewFrameReader returns a reader over src that replies to control frames on
// dst. state selects client or server side masking.
func NewFrameReader(src io.Reader, dst io.Writer, writeMu *sync.Mutex, state ws.State) *FrameReader {
	handler := wsutil.ControlFrameHandler(dst, state)
	locked := func(h ws.Header, r io.Reader) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return handler(h, r)
	}

	fr := &FrameReader{ctl: wsutil.FrameHandlerFunc(locked)}
	fr.rd = wsutil.Reader{
		Source:         src,
		State:          state,
		CheckUTF8:      true,
		OnIntermediate: fr.ctl,
	}
	return fr
}

// Next blocks until a text or binary message is available and returns its
// payload. A close frame from the peer surfaces as wsutil.ClosedError.
func (fr *FrameReader) Next() ([]byte, error) {
	for {
		hdr, err := fr.rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := fr.ctl(hdr, &fr.rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := fr.rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(&fr.rd)
	}
}
