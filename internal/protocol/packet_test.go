package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePacket_Open(t *testing.T) {
	p, err := ParsePacket([]byte(`0{"sid":"abc","upgrades":[],"pingInterval":25000,"pingTimeout":20000}`))
	require.NoError(t, err)
	assert.Equal(t, EngineOpen, p.Engine)
	assert.JSONEq(t, `{"sid":"abc","upgrades":[],"pingInterval":25000,"pingTimeout":20000}`, string(p.Data))
}

func TestParsePacket_PingWithoutData(t *testing.T) {
	p, err := ParsePacket([]byte("2"))
	require.NoError(t, err)
	assert.Equal(t, EnginePing, p.Engine)
	assert.Nil(t, p.Data)
}

func TestParsePacket_Connect(t *testing.T) {
	p, err := ParsePacket([]byte(`40{"sid":"xyz"}`))
	require.NoError(t, err)
	assert.Equal(t, EngineMessage, p.Engine)
	assert.Equal(t, SocketConnect, p.Socket)
	assert.Equal(t, "/", p.Namespace)
	assert.Equal(t, -1, p.AckID)
	assert.JSONEq(t, `{"sid":"xyz"}`, string(p.Data))
}

func TestParsePacket_EventWithNamespaceAndAck(t *testing.T) {
	p, err := ParsePacket([]byte(`42/chat,17["receive",{"msg":"hi"}]`))
	require.NoError(t, err)
	assert.Equal(t, SocketEvent, p.Socket)
	assert.Equal(t, "/chat", p.Namespace)
	assert.Equal(t, 17, p.AckID)

	name, arg, err := p.EventArgs()
	require.NoError(t, err)
	assert.Equal(t, "receive", name)
	assert.JSONEq(t, `{"msg":"hi"}`, string(arg))
}

func TestParsePacket_EventWithoutArgument(t *testing.T) {
	p, err := ParsePacket([]byte(`42["leave"]`))
	require.NoError(t, err)

	name, arg, err := p.EventArgs()
	require.NoError(t, err)
	assert.Equal(t, "leave", name)
	assert.Nil(t, arg)
}

func TestParsePacket_Errors(t *testing.T) {
	_, err := ParsePacket(nil)
	assert.True(t, errors.Is(err, ErrEmptyPacket))

	_, err = ParsePacket([]byte("9"))
	assert.True(t, errors.Is(err, ErrUnknownPacket))

	_, err = ParsePacket([]byte("4"))
	assert.True(t, errors.Is(err, ErrUnknownPacket))

	_, err = ParsePacket([]byte("49"))
	assert.True(t, errors.Is(err, ErrUnknownPacket))
}

func TestEventArgs_NotAnArray(t *testing.T) {
	p, err := ParsePacket([]byte(`42{"oops":true}`))
	require.NoError(t, err)
	_, _, err = p.EventArgs()
	assert.Error(t, err)
}

func TestEncodeSocketAndOpen(t *testing.T) {
	frame, err := EncodeSocket(SocketConnect, nil)
	require.NoError(t, err)
	assert.Equal(t, "40", string(frame))

	frame, err = EncodeSocket(SocketConnect, map[string]string{"sid": "s1"})
	require.NoError(t, err)
	assert.Equal(t, `40{"sid":"s1"}`, string(frame))

	frame, err = EncodeOpen(OpenPayload{SID: "s1", PingInterval: 100, PingTimeout: 50})
	require.NoError(t, err)
	p, err := ParsePacket(frame)
	require.NoError(t, err)
	assert.Equal(t, EngineOpen, p.Engine)
	assert.JSONEq(t, `{"sid":"s1","upgrades":[],"pingInterval":100,"pingTimeout":50}`, string(p.Data))
}
