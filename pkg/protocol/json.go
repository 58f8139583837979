package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONCodec is the human-readable encoding: one JSON object per message,
// newline-delimited on the wire.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (c JSONCodec) EncodeEnvelope(env *Envelope) ([]byte, error) {
	if !KnownKind(env.Kind) {
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownType, env.Kind)
	}
	if len(env.Content) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c JSONCodec) DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !KnownKind(env.Kind) {
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownType, env.Kind)
	}
	return env, nil
}

func (c JSONCodec) EncodeResponse(resp *ServerResponse) ([]byte, error) {
	if resp.Data != nil && !KnownKind(resp.Data.Kind) {
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownType, resp.Data.Kind)
	}
	return json.Marshal(resp)
}

func (c JSONCodec) DecodeResponse(data []byte) (*ServerResponse, error) {
	if len(data) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	resp := &ServerResponse{}
	if err := json.Unmarshal(data, resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if resp.Status != StatusSuccess && resp.Status != StatusError {
		return nil, fmt.Errorf("%w: status %q", ErrMalformed, resp.Status)
	}
	return resp, nil
}

// Frame appends the newline delimiter.
func (JSONCodec) Frame(data []byte) []byte {
	framed := make([]byte, 0, len(data)+1)
	framed = append(framed, data...)
	return append(framed, '\n')
}

// Extract returns the bytes up to the first newline, excluding the delimiter
// itself. No newline in the buffer means no complete frame yet. A line that
// exceeds MaxPayloadSize without terminating is discarded so a peer cannot
// grow the buffer without bound; the tail of the dropped line decodes as
// malformed once its newline arrives.
func (JSONCodec) Extract(buf []byte) (frame, rest []byte) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		if len(buf) > MaxPayloadSize {
			return nil, buf[:0]
		}
		return nil, buf
	}
	return buf[:idx], buf[idx+1:]
}
