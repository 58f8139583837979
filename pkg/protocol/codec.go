// Package protocol implements the two interchangeable wire encodings for the
// chat protocol: a newline-delimited JSON encoding and a compact binary
// encoding with explicit framing. Both satisfy the same Codec contract, so
// the server and client stay encoding-agnostic; the encoding is chosen once
// at startup and fixed for the lifetime of every connection.
package protocol

import (
	"errors"
	"fmt"
)

const (
	// MaxPayloadSize bounds a single frame's payload (1,000,000 bytes).
	// Decode fails with ErrFrameTooLarge instead of allocating further.
	MaxPayloadSize = 1_000_000

	// binaryHeaderSize is the binary frame header: 1-byte tag + 4-byte length.
	binaryHeaderSize = 5
)

// Codec error taxonomy. Extract handles truncation internally (it returns no
// frame until enough bytes arrive), so decode only ever sees complete frames.
var (
	// ErrFrameTooLarge means a declared payload length exceeds MaxPayloadSize.
	ErrFrameTooLarge = errors.New("frame exceeds maximum payload size")
	// ErrUnknownType means a wire tag or kind is not in the pinned table.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed means a frame was structurally invalid, e.g. a string
	// length prefix pointing past the end of the payload.
	ErrMalformed = errors.New("malformed frame")
)

// Codec converts envelopes and server responses to and from wire bytes and
// delimits them into frames. Implementations must be safe for concurrent use;
// both implementations here are stateless.
//
// Extract is the frame extractor: called repeatedly against an accumulating
// buffer, it returns at most one complete frame per call and never blocks.
// When the buffer holds no complete frame it returns (nil, buf) unchanged --
// the caller reads more bytes and retries. On an unrecognized binary tag it
// advances the buffer by exactly one byte, giving crude resynchronization
// against a corrupted stream instead of stalling forever.
type Codec interface {
	Name() string

	EncodeEnvelope(env *Envelope) ([]byte, error)
	DecodeEnvelope(data []byte) (*Envelope, error)

	EncodeResponse(resp *ServerResponse) ([]byte, error)
	DecodeResponse(data []byte) (*ServerResponse, error)

	// Frame wraps one encoded message for transmission.
	Frame(data []byte) []byte
	// Extract returns the next complete frame and the remaining buffer.
	Extract(buf []byte) (frame, rest []byte)
}

// New returns the codec for the given encoding name ("json" or "custom").
func New(name string) (Codec, error) {
	switch name {
	case "json":
		return JSONCodec{}, nil
	case "custom":
		return BinaryCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q (want json or custom)", name)
	}
}
