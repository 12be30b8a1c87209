package roomserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/chat-loadgen/internal/protocol"
	"github.com/whisper/chat-loadgen/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{
		PingInterval: 50 * time.Millisecond,
		PingTimeout:  200 * time.Millisecond,
		Logger:       quietLogger(),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		ts.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, engineIO int) *transport.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket.io/?EIO=" +
		strconv.Itoa(engineIO) + "&transport=websocket"
	c, err := transport.Dial(context.Background(), transport.Config{
		URL:         url,
		EngineIO:    engineIO,
		DialTimeout: 2 * time.Second,
		Logger:      quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	expect[protocol.Connected](t, c)
	return c
}

func expect[T protocol.Event](t *testing.T, c *transport.Conn) T {
	t.Helper()
	var zero T
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "event stream closed while waiting for %T", zero)
		got, ok := ev.(T)
		require.True(t, ok, "expected %T, got %T (%+v)", zero, ev, ev)
		return got
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %T", zero)
	}
	return zero
}

func login(t *testing.T, s *Server, c *transport.Conn, room int, user string) {
	t.Helper()
	before := len(s.Rooms().Members(room))
	require.NoError(t, c.Emit(protocol.Login{User: user, Avatar: user + "@example.com", ID: room}))
	require.Eventually(t, func() bool {
		return len(s.Rooms().Members(room)) == before+1
	}, 2*time.Second, 5*time.Millisecond)
}

// ---------------------------------------------------------------------------
// Room protocol
// ---------------------------------------------------------------------------

func TestLoad_EmptyRoom(t *testing.T) {
	_, ts := newTestServer(t)
	c := dial(t, ts, 4)

	require.NoError(t, c.Emit(protocol.Load{RoomID: 5000}))
	pic := expect[protocol.PeopleInChat](t, c)
	assert.Equal(t, 0, pic.Number)
	assert.Empty(t, pic.User)
}

func TestLogin_StartsChatForBoth(t *testing.T) {
	s, ts := newTestServer(t)
	a := dial(t, ts, 4)
	b := dial(t, ts, 4)

	login(t, s, a, 6000, "Ada")

	require.NoError(t, b.Emit(protocol.Load{RoomID: 6000}))
	pic := expect[protocol.PeopleInChat](t, b)
	assert.Equal(t, 1, pic.Number)
	assert.Equal(t, "Ada", pic.User)
	assert.Equal(t, "Ada@example.com", pic.Avatar)
	assert.Equal(t, 6000, pic.ID)

	login(t, s, b, 6000, "Bo")

	for _, c := range []*transport.Conn{a, b} {
		start := expect[protocol.StartChat](t, c)
		assert.True(t, start.Boolean)
		assert.Equal(t, 6000, start.ID)
		assert.Equal(t, []string{"Ada", "Bo"}, start.Users)
	}
}

func TestMsg_RelayedToPartnerAndLeaveOnDisconnect(t *testing.T) {
	s, ts := newTestServer(t)
	a := dial(t, ts, 4)
	b := dial(t, ts, 4)

	login(t, s, a, 7000, "Ada")
	login(t, s, b, 7000, "Bo")
	expect[protocol.StartChat](t, a)
	expect[protocol.StartChat](t, b)

	require.NoError(t, a.Emit(protocol.Msg{Msg: "hi", User: "Ada"}))
	rcv := expect[protocol.Receive](t, b)
	assert.Equal(t, protocol.Receive{Msg: "hi", User: "Ada"}, rcv)

	require.NoError(t, a.Close())
	leave := expect[protocol.Leave](t, b)
	assert.True(t, leave.Boolean)
	assert.Equal(t, 7000, leave.Room)
	assert.Equal(t, "Ada", leave.User)

	require.Eventually(t, func() bool {
		return len(s.Rooms().Members(7000)) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLoad_FullRoomReportsTooMany(t *testing.T) {
	s, ts := newTestServer(t)
	a := dial(t, ts, 4)
	b := dial(t, ts, 4)
	c := dial(t, ts, 4)

	login(t, s, a, 8000, "Ada")
	login(t, s, b, 8000, "Bo")

	require.NoError(t, c.Emit(protocol.Load{RoomID: 8000}))
	pic := expect[protocol.PeopleInChat](t, c)
	assert.Equal(t, 2, pic.Number)
	tm := expect[protocol.TooMany](t, c)
	assert.True(t, tm.Boolean)
}

// ---------------------------------------------------------------------------
// Engine.IO
// ---------------------------------------------------------------------------

func TestHeartbeat_KeepsResponsiveClients(t *testing.T) {
	s, ts := newTestServer(t)
	dial(t, ts, 4)
	dial(t, ts, 3)

	// Several ping intervals and more than interval+timeout.
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 2, s.Connections().Count())
}

func TestEngineIO3_ConnectsWithoutNamespaceRequest(t *testing.T) {
	_, ts := newTestServer(t)
	c := dial(t, ts, 3)

	require.NoError(t, c.Emit(protocol.Load{RoomID: 9000}))
	pic := expect[protocol.PeopleInChat](t, c)
	assert.Equal(t, 0, pic.Number)
}

func TestShutdown_DisconnectsClients(t *testing.T) {
	s, ts := newTestServer(t)
	c := dial(t, ts, 4)

	require.NoError(t, s.Shutdown(context.Background()))

	var last protocol.Event
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				done = true
				break
			}
			last = ev
		case <-timeout:
			t.Fatal("event stream not closed after shutdown")
		}
	}
	_, isDisconnect := last.(protocol.Disconnect)
	assert.True(t, isDisconnect, "last event %T", last)
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	dial(t, ts, 4)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Connections)
}

func TestUpgrade_RejectsOtherTransports(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/socket.io/?EIO=4&transport=polling")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMsg_InvalidTextBouncesError(t *testing.T) {
	s, ts := newTestServer(t)
	a := dial(t, ts, 4)
	b := dial(t, ts, 4)

	login(t, s, a, 7100, "Ada")
	login(t, s, b, 7100, "Bo")
	expect[protocol.StartChat](t, a)

	require.NoError(t, a.Emit(protocol.Msg{Msg: "", User: "Ada"}))
	e := expect[protocol.Error](t, a)
	assert.Contains(t, e.Message, "empty")
}
