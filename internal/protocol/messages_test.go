package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Outbound encoding
// ---------------------------------------------------------------------------

func TestEncodeOutbound_LoadIsRawInteger(t *testing.T) {
	frame, err := EncodeOutbound(Load{RoomID: 123456})
	require.NoError(t, err)
	assert.Equal(t, `42["load",123456]`, string(frame))
}

func TestEncodeOutbound_Login(t *testing.T) {
	frame, err := EncodeOutbound(Login{User: "Ada", Avatar: "Ada@example.com", ID: 42})
	require.NoError(t, err)
	assert.Equal(t, `42["login",{"user":"Ada","avatar":"Ada@example.com","id":42}]`, string(frame))
}

func TestEncodeOutbound_MsgKeepsEmptyImg(t *testing.T) {
	frame, err := EncodeOutbound(Msg{Msg: "hi", User: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, `42["msg",{"msg":"hi","user":"Ada","img":""}]`, string(frame))
}

func TestEncodeEvent_NoPayload(t *testing.T) {
	frame, err := EncodeEvent(EventStartChat, nil)
	require.NoError(t, err)
	assert.Equal(t, `42["startChat"]`, string(frame))
}

// ---------------------------------------------------------------------------
// Inbound decoding
// ---------------------------------------------------------------------------

func TestDecodeEvent_PeopleInChat(t *testing.T) {
	ev, err := DecodeEvent(EventPeopleInChat, json.RawMessage(`{"number":1,"user":"Bo","avatar":"Bo@example.com","id":77}`))
	require.NoError(t, err)

	pic, ok := ev.(PeopleInChat)
	require.True(t, ok, "expected PeopleInChat, got %T", ev)
	assert.Equal(t, 1, pic.Number)
	assert.Equal(t, "Bo", pic.User)
	assert.Equal(t, 77, pic.ID)
}

func TestDecodeEvent_MissingArgumentIsZeroPayload(t *testing.T) {
	ev, err := DecodeEvent(EventLeave, nil)
	require.NoError(t, err)
	assert.Equal(t, Leave{}, ev)
}

func TestDecodeEvent_Receive(t *testing.T) {
	ev, err := DecodeEvent(EventReceive, json.RawMessage(`{"msg":"hello","user":"Bo","img":""}`))
	require.NoError(t, err)
	assert.Equal(t, Receive{Msg: "hello", User: "Bo"}, ev)
}

func TestDecodeEvent_ErrorAcceptsStringOrObject(t *testing.T) {
	ev, err := DecodeEvent(EventError, json.RawMessage(`"boom"`))
	require.NoError(t, err)
	assert.Equal(t, Error{Message: "boom"}, ev)

	ev, err = DecodeEvent(EventError, json.RawMessage(`{"message":"bang"}`))
	require.NoError(t, err)
	assert.Equal(t, Error{Message: "bang"}, ev)
}

func TestDecodeEvent_Unknown(t *testing.T) {
	_, err := DecodeEvent("img", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownEvent))
}

func TestDecodeEvent_MalformedPayload(t *testing.T) {
	_, err := DecodeEvent(EventPeopleInChat, json.RawMessage(`{"number":"many"}`))
	require.Error(t, err)
}

func TestDecodeClientEvent_Load(t *testing.T) {
	ev, err := DecodeClientEvent(EventLoad, json.RawMessage(`987654`))
	require.NoError(t, err)
	assert.Equal(t, Load{RoomID: 987654}, ev)
}

func TestDecodeClientEvent_Login(t *testing.T) {
	ev, err := DecodeClientEvent(EventLogin, json.RawMessage(`{"user":"Ada","avatar":"a@example.com","id":5}`))
	require.NoError(t, err)
	assert.Equal(t, Login{User: "Ada", Avatar: "a@example.com", ID: 5}, ev)
}
