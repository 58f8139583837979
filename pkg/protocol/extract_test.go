package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeFrames(t *testing.T, codec Codec, envs ...*Envelope) []byte {
	t.Helper()
	var wire []byte
	for _, env := range envs {
		data, err := codec.EncodeEnvelope(env)
		require.NoError(t, err)
		wire = append(wire, codec.Frame(data)...)
	}
	return wire
}

func TestExtractWholeBuffer(t *testing.T) {
	envs := []*Envelope{
		{Kind: KindChat, Sender: "u1", Content: "first", Timestamp: 1},
		{Kind: KindDM, Sender: "u1", Content: "second", Recipients: []string{"u2"}, Timestamp: 2},
		{Kind: KindLogout, Sender: "u1", Timestamp: 3},
	}

	for _, codec := range allCodecs(t) {
		t.Run(codec.Name(), func(t *testing.T) {
			buf := encodeFrames(t, codec, envs...)

			var got []*Envelope
			for {
				frame, rest := codec.Extract(buf)
				buf = rest
				if frame == nil {
					break
				}
				env, err := codec.DecodeEnvelope(frame)
				require.NoError(t, err)
				got = append(got, env)
			}
			assert.Equal(t, envs, got)
			assert.Empty(t, buf)
		})
	}
}

// Feeding the extractor one byte at a time must yield exactly the same frame
// sequence as feeding the whole buffer at once.
func TestExtractByteAtATime(t *testing.T) {
	envs := []*Envelope{
		{Kind: KindChat, Sender: "u1", Content: "hello", Timestamp: 10},
		{Kind: KindFetch, Sender: "u1", FetchLimit: 5, Timestamp: 11},
		{Kind: KindMarkRead, Sender: "u1", MessageIDs: []uint64{4, 5, 6}, Timestamp: 12},
	}

	for _, codec := range allCodecs(t) {
		t.Run(codec.Name(), func(t *testing.T) {
			wire := encodeFrames(t, codec, envs...)

			var buf []byte
			var got []*Envelope
			for _, b := range wire {
				buf = append(buf, b)
				for {
					frame, rest := codec.Extract(buf)
					buf = rest
					if frame == nil {
						break
					}
					env, err := codec.DecodeEnvelope(frame)
					require.NoError(t, err)
					got = append(got, env)
				}
			}
			assert.Equal(t, envs, got)
			assert.Empty(t, buf)
		})
	}
}

func TestExtractIncompleteLeavesBufferUntouched(t *testing.T) {
	for _, codec := range allCodecs(t) {
		t.Run(codec.Name(), func(t *testing.T) {
			wire := encodeFrames(t, codec, &Envelope{Kind: KindChat, Sender: "u1", Content: "x"})
			partial := wire[:len(wire)-1]

			frame, rest := codec.Extract(partial)
			assert.Nil(t, frame)
			assert.Equal(t, partial, rest)
		})
	}
}

func TestBinaryExtractResynchronizes(t *testing.T) {
	codec := BinaryCodec{}
	valid := encodeFrames(t, codec, &Envelope{Kind: KindChat, Sender: "u1", Content: "ok", Timestamp: 1})

	// Prepend garbage bytes with no valid tag; the extractor should consume
	// them one at a time and still find the real frame.
	buf := append([]byte{0xDE, 0xAD, 0xBE}, valid...)

	var frames [][]byte
	for len(buf) > 0 {
		frame, rest := codec.Extract(buf)
		if frame != nil {
			frames = append(frames, frame)
		}
		if frame == nil && len(rest) == len(buf) {
			break
		}
		buf = rest
	}
	require.Len(t, frames, 1)

	env, err := codec.DecodeEnvelope(frames[0])
	require.NoError(t, err)
	assert.Equal(t, "ok", env.Content)
}

func TestBinaryExtractSkipsOversizedHeader(t *testing.T) {
	codec := BinaryCodec{}
	header := make([]byte, binaryHeaderSize)
	header[0] = TagChat
	binary.BigEndian.PutUint32(header[1:5], MaxPayloadSize+1)

	frame, rest := codec.Extract(header)
	assert.Nil(t, frame)
	assert.Empty(t, rest, "oversized header should be dropped")
}

func TestJSONExtractWaitsForNewline(t *testing.T) {
	codec := JSONCodec{}
	frame, rest := codec.Extract([]byte(`{"kind":"chat"`))
	assert.Nil(t, frame)
	assert.Equal(t, []byte(`{"kind":"chat"`), rest)

	frame, rest = codec.Extract([]byte("{\"kind\":\"chat\",\"sender\":\"\",\"content\":\"\",\"timestamp\":0}\ntail"))
	assert.NotNil(t, frame)
	assert.Equal(t, []byte("tail"), rest)
}

func TestJSONExtractDropsUnterminatedOversizedLine(t *testing.T) {
	codec := JSONCodec{}

	// A line past the payload limit with no newline in sight is discarded
	// rather than buffered forever.
	oversized := make([]byte, MaxPayloadSize+1)
	for i := range oversized {
		oversized[i] = 'a'
	}
	frame, rest := codec.Extract(oversized)
	assert.Nil(t, frame)
	assert.Empty(t, rest)

	// Exactly at the limit the extractor still waits for the delimiter
	atLimit := oversized[:MaxPayloadSize]
	frame, rest = codec.Extract(atLimit)
	assert.Nil(t, frame)
	assert.Equal(t, atLimit, rest)
}
