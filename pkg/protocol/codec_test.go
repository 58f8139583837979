package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allCodecs(t *testing.T) []Codec {
	t.Helper()
	jsonCodec, err := New("json")
	require.NoError(t, err)
	binCodec, err := New("custom")
	require.NoError(t, err)
	return []Codec{jsonCodec, binCodec}
}

func TestNewCodec(t *testing.T) {
	c, err := New("json")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	c, err = New("custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", c.Name())

	_, err = New("protobuf")
	assert.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	envelopes := []*Envelope{
		{
			Kind:      KindLogin,
			Sender:    "alice",
			Password:  "hunter22",
			Timestamp: 1700000000123,
		},
		{
			Kind:      KindChat,
			Sender:    "bob",
			Content:   "hello everyone",
			Timestamp: 1700000000456,
		},
		{
			Kind:       KindDM,
			Sender:     "bob",
			Content:    "hi",
			Recipients: []string{"alice"},
			Timestamp:  1700000000789,
		},
		{
			Kind:       KindDM,
			Sender:     "carol",
			Content:    "group note",
			Recipients: []string{"alice", "bob", "dave"},
			Timestamp:  1700000001000,
		},
		{
			Kind:       KindFetch,
			Sender:     "alice",
			FetchLimit: 25,
			Recipients: []string{"alice", "bob"},
			Timestamp:  1700000002000,
		},
		{
			Kind:       KindMarkRead,
			Sender:     "alice",
			MessageIDs: []uint64{1, 2, 99999999999},
			Timestamp:  1700000003000,
		},
		{
			Kind:       KindDelete,
			Sender:     "alice",
			Recipients: []string{"bob"},
			MessageIDs: []uint64{7},
			Timestamp:  1700000004000,
		},
		{
			Kind:      KindLogout,
			Sender:    "alice",
			Timestamp: 1700000005000,
		},
		{
			Kind:        KindLogin,
			Sender:      "System",
			Recipients:  []string{"alice", "bob"},
			ActiveUsers: []string{"alice"},
			Timestamp:   1700000006000,
		},
		{
			Kind:        KindChat,
			Sender:      "System",
			Content:     "You have 3 unread messages",
			UnreadCount: 3,
			Timestamp:   1700000007000,
		},
		{
			// all optional fields empty
			Kind: KindLeave,
		},
		{
			Kind:      KindChat,
			Sender:    "bob",
			Content:   "unicode: héllo wörld 日本語 🎉",
			Timestamp: 1700000008000,
		},
	}

	for _, codec := range allCodecs(t) {
		for _, env := range envelopes {
			t.Run(codec.Name()+"/"+string(env.Kind), func(t *testing.T) {
				data, err := codec.EncodeEnvelope(env)
				require.NoError(t, err)

				decoded, err := codec.DecodeEnvelope(data)
				require.NoError(t, err)
				assert.Equal(t, env, decoded)
			})
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	responses := []*ServerResponse{
		{Status: StatusSuccess, Message: "Login successful"},
		{Status: StatusError, Message: "Invalid username or password"},
		{Status: StatusSuccess, Message: "new_message", UnreadCount: 12},
		{
			Status:  StatusSuccess,
			Message: "new_message",
			Data: &Envelope{
				Kind:       KindDM,
				Sender:     "bob",
				Content:    "hi alice",
				Recipients: []string{"alice"},
				MessageID:  42,
				Timestamp:  1700000000000,
			},
		},
	}

	for _, codec := range allCodecs(t) {
		for i, resp := range responses {
			t.Run(codec.Name(), func(t *testing.T) {
				data, err := codec.EncodeResponse(resp)
				require.NoError(t, err, "response %d", i)

				decoded, err := codec.DecodeResponse(data)
				require.NoError(t, err, "response %d", i)
				assert.Equal(t, resp, decoded)
			})
		}
	}
}

func TestEncodeUnknownKind(t *testing.T) {
	for _, codec := range allCodecs(t) {
		_, err := codec.EncodeEnvelope(&Envelope{Kind: Kind("presence")})
		assert.ErrorIs(t, err, ErrUnknownType, codec.Name())
	}
}

func TestBinaryDecodeErrors(t *testing.T) {
	codec := BinaryCodec{}

	t.Run("unknown tag", func(t *testing.T) {
		frame := []byte{0xFF, 0, 0, 0, 0}
		_, err := codec.DecodeEnvelope(frame)
		assert.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("short header", func(t *testing.T) {
		_, err := codec.DecodeEnvelope([]byte{TagChat, 0, 0})
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("length mismatch", func(t *testing.T) {
		// Declares 10 payload bytes, provides 2.
		frame := []byte{TagChat, 0, 0, 0, 10, 0x01, 0x02}
		_, err := codec.DecodeEnvelope(frame)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("oversized declared length", func(t *testing.T) {
		frame := []byte{TagChat, 0xFF, 0xFF, 0xFF, 0xFF}
		_, err := codec.DecodeEnvelope(frame)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("trailing bytes after last field", func(t *testing.T) {
		valid, err := codec.EncodeEnvelope(&Envelope{Kind: KindChat, Sender: "u1", Content: "hi", Timestamp: 1})
		require.NoError(t, err)

		// Re-declare the length to cover two junk bytes appended past the
		// final field; the payload must be consumed exactly.
		padded := append(valid[binaryHeaderSize:], 0xAB, 0xCD)
		frame, err := codec.assemble(TagChat, padded)
		require.NoError(t, err)
		_, err = codec.DecodeEnvelope(frame)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("string prefix past payload end", func(t *testing.T) {
		// Valid header, payload with message_id then a sender length prefix
		// claiming more bytes than remain.
		payload := []byte{
			0, 0, 0, 0, 0, 0, 0, 1, // message_id
			0xFF, 0xFF, // sender length = 65535, nothing follows
		}
		frame, err := codec.assemble(TagChat, payload)
		require.NoError(t, err)
		_, err = codec.DecodeEnvelope(frame)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestJSONDecodeErrors(t *testing.T) {
	codec := JSONCodec{}

	_, err := codec.DecodeEnvelope([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = codec.DecodeEnvelope([]byte(`{"kind":"presence","sender":"x"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = codec.DecodeResponse([]byte(`{"status":"maybe","message":"?"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBinaryStringLimit(t *testing.T) {
	codec := BinaryCodec{}
	env := &Envelope{
		Kind:    KindChat,
		Sender:  "bob",
		Content: strings.Repeat("x", 70000),
	}
	_, err := codec.EncodeEnvelope(env)
	assert.ErrorIs(t, err, ErrStringTooLong)
}

func TestTagTablePinned(t *testing.T) {
	// The wire tags are a protocol constant; a change here breaks every
	// deployed peer.
	expected := map[Kind]byte{
		KindServerResponse:     0x00,
		KindLogin:              0x01,
		KindLogout:             0x02,
		KindJoin:               0x03,
		KindRegister:           0x04,
		KindChat:               0x05,
		KindDM:                 0x06,
		KindFetch:              0x07,
		KindMarkRead:           0x08,
		KindDelete:             0x09,
		KindDeleteNotification: 0x0A,
		KindDeleteAccount:      0x0B,
		KindLeave:              0x0C,
	}
	assert.Equal(t, expected, kindTags)
	for kind, tag := range expected {
		assert.Equal(t, kind, tagKinds[tag])
	}
}
