package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	data, err := Encode("c:m", map[string]any{"m": "hi", "c": 1})
	require.NoError(t, err)
	assert.Equal(t, `42["c:m",{"c":1,"m":"hi"}]`, string(data))

	data, err = Encode("p")
	require.NoError(t, err)
	assert.Equal(t, `42["p"]`, string(data))

	data, err = Encode("u:ammo:s", 2)
	require.NoError(t, err)
	assert.Equal(t, `42["u:ammo:s",2]`, string(data))

	_, err = Encode("")
	assert.ErrorIs(t, err, ErrEmptyEvent)
}

func TestEncode_NoHTMLEscaping(t *testing.T) {
	data, err := Encode("chat", "<b>&</b>")
	require.NoError(t, err)
	assert.Equal(t, `42["chat","<b>&</b>"]`, string(data))
}

func TestDecode_ControlFrames(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
	}{
		{"3probe", KindProbeAck},
		{"2probe", KindProbe},
		{"2", KindPing},
		{"3", KindPong},
		{"1", KindClose},
		{`0{"sid":"abc"}`, KindOpen},
		{"6", KindUnknown},
		{"40", KindUnknown},
		{`44{"message":"nope"}`, KindUnknown},
		{"", KindUnknown},
		{"hello", KindUnknown},
	}
	for _, tc := range cases {
		f, err := Decode([]byte(tc.in))
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, f.Kind, tc.in)
	}
}

func TestDecode_PingIsNotAMessage(t *testing.T) {
	f, err := Decode([]byte("2"))
	require.NoError(t, err)
	assert.Equal(t, KindPing, f.Kind)
	assert.Empty(t, f.Event)
	assert.Nil(t, f.Args)
}

func TestDecode_Event(t *testing.T) {
	f, err := Decode([]byte(`42["ud:u",{"credits":10,"level":3}]`))
	require.NoError(t, err)
	assert.Equal(t, KindMessage, f.Kind)
	assert.Equal(t, "ud:u", f.Event)
	require.Len(t, f.Args, 1)
	assert.JSONEq(t, `{"credits":10,"level":3}`, string(f.Args[0]))
	assert.Equal(t, -1, f.AckID)
}

func TestDecode_EventWithoutArgs(t *testing.T) {
	f, err := Decode([]byte(`42["c:j"]`))
	require.NoError(t, err)
	assert.Equal(t, "c:j", f.Event)
	assert.Empty(t, f.Args)
}

func TestDecode_EventWithAckID(t *testing.T) {
	f, err := Decode([]byte(`4217["ping",1]`))
	require.NoError(t, err)
	assert.Equal(t, "ping", f.Event)
	assert.Equal(t, 17, f.AckID)
}

func TestDecode_AckIDOverflow(t *testing.T) {
	_, err := Decode([]byte(`4299999999999999999999["e"]`))
	require.Error(t, err)
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "ack id out of range", fe.Reason)

	f, err := Decode([]byte(`422147483647["e"]`))
	require.NoError(t, err)
	assert.Equal(t, 2147483647, f.AckID)
}

func TestDecode_MalformedEvents(t *testing.T) {
	for _, in := range []string{
		`42`,
		`42[`,
		`42["unterminated`,
		`42{"a":1}`,
		`42[]`,
		`42[1,2]`,
		`42[""]`,
		`42[null]`,
	} {
		_, err := Decode([]byte(in))
		var fe *FrameError
		assert.ErrorAs(t, err, &fe, in)
	}
}

func TestRoundTrip(t *testing.T) {
	args := []any{
		map[string]any{"id": "e1", "nested": map[string]any{"list": []any{1.0, "two", map[string]any{"three": 3.0}}}},
		[]any{1.0, 2.5, -3.0},
		"plain",
		42.0,
		true,
		nil,
	}

	data, err := Encode("expl:spw", args...)
	require.NoError(t, err)

	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "expl:spw", f.Event)
	require.Len(t, f.Args, len(args))
	for i, raw := range f.Args {
		var got any
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, args[i], got)
	}
}
