package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// BinaryCodec is the compact binary encoding. A frame is:
//
//	[1 byte: kind tag][4 bytes: big-endian payload length][payload]
//
// Framing is part of the encoding itself, so Frame is the identity.
//
// Envelope payload layout (fields absent from the logical envelope encode as
// their zero values):
//
//	message_id    u64
//	sender        string (2-byte length prefix + UTF-8)
//	content       string
//	timestamp     i64 unix milliseconds
//	recipients    u8 count + strings
//	message_ids   u16 count + u64 ids
//	fetch_limit   u32
//	password      string
//	active_users  u8 count + strings
//	unread_count  u32
type BinaryCodec struct{}

func (BinaryCodec) Name() string { return "custom" }

func (c BinaryCodec) EncodeEnvelope(env *Envelope) ([]byte, error) {
	tag, ok := kindTags[env.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownType, env.Kind)
	}

	var payload bytes.Buffer
	if err := c.writeEnvelopePayload(&payload, env); err != nil {
		return nil, err
	}
	return c.assemble(tag, payload.Bytes())
}

func (c BinaryCodec) writeEnvelopePayload(buf *bytes.Buffer, env *Envelope) error {
	if err := WriteUint64(buf, env.MessageID); err != nil {
		return err
	}
	if err := WriteString(buf, env.Sender); err != nil {
		return err
	}
	if err := WriteString(buf, env.Content); err != nil {
		return err
	}
	if err := WriteInt64(buf, env.Timestamp); err != nil {
		return err
	}
	if err := WriteStringList(buf, env.Recipients); err != nil {
		return err
	}
	if err := WriteIDList(buf, env.MessageIDs); err != nil {
		return err
	}
	if err := WriteUint32(buf, env.FetchLimit); err != nil {
		return err
	}
	if err := WriteString(buf, env.Password); err != nil {
		return err
	}
	if err := WriteStringList(buf, env.ActiveUsers); err != nil {
		return err
	}
	return WriteUint32(buf, env.UnreadCount)
}

func (c BinaryCodec) assemble(tag byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, binaryHeaderSize+len(payload))
	frame[0] = tag
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(payload)))
	copy(frame[binaryHeaderSize:], payload)
	return frame, nil
}

// splitFrame validates the header of a complete frame and returns the kind
// tag and payload bytes.
func (c BinaryCodec) splitFrame(data []byte) (byte, []byte, error) {
	if len(data) < binaryHeaderSize {
		return 0, nil, fmt.Errorf("%w: short header (%d bytes)", ErrMalformed, len(data))
	}
	tag := data[0]
	if !KnownTag(tag) {
		return 0, nil, fmt.Errorf("%w: tag 0x%02X", ErrUnknownType, tag)
	}
	length := binary.BigEndian.Uint32(data[1:5])
	if length > MaxPayloadSize {
		return 0, nil, ErrFrameTooLarge
	}
	if int(length) != len(data)-binaryHeaderSize {
		return 0, nil, fmt.Errorf("%w: declared %d payload bytes, have %d", ErrMalformed, length, len(data)-binaryHeaderSize)
	}
	return tag, data[binaryHeaderSize:], nil
}

func (c BinaryCodec) DecodeEnvelope(data []byte) (*Envelope, error) {
	tag, payload, err := c.splitFrame(data)
	if err != nil {
		return nil, err
	}
	if tag == TagServerResponse {
		return nil, fmt.Errorf("%w: server_response frame is not an envelope", ErrMalformed)
	}
	env, err := c.readEnvelopePayload(tagKinds[tag], payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}

func (c BinaryCodec) readEnvelopePayload(kind Kind, payload []byte) (*Envelope, error) {
	r := bytes.NewReader(payload)
	env := &Envelope{Kind: kind}

	var err error
	if env.MessageID, err = ReadUint64(r); err != nil {
		return nil, err
	}
	if env.Sender, err = ReadString(r); err != nil {
		return nil, err
	}
	if env.Content, err = ReadString(r); err != nil {
		return nil, err
	}
	if env.Timestamp, err = ReadInt64(r); err != nil {
		return nil, err
	}
	if env.Recipients, err = ReadStringList(r); err != nil {
		return nil, err
	}
	if env.MessageIDs, err = ReadIDList(r); err != nil {
		return nil, err
	}
	if env.FetchLimit, err = ReadUint32(r); err != nil {
		return nil, err
	}
	if env.Password, err = ReadString(r); err != nil {
		return nil, err
	}
	if env.ActiveUsers, err = ReadStringList(r); err != nil {
		return nil, err
	}
	if env.UnreadCount, err = ReadUint32(r); err != nil {
		return nil, err
	}
	if r.Len() > 0 {
		return nil, fmt.Errorf("%d trailing bytes after last field", r.Len())
	}
	return env, nil
}

// Response payload layout:
//
//	status        u8 (0 success, 1 error)
//	message       string
//	unread_count  u32
//	data flag     u8; if 1, a complete embedded envelope frame follows
func (c BinaryCodec) EncodeResponse(resp *ServerResponse) ([]byte, error) {
	var payload bytes.Buffer

	statusByte := uint8(0)
	if resp.Status != StatusSuccess {
		statusByte = 1
	}
	if err := WriteUint8(&payload, statusByte); err != nil {
		return nil, err
	}
	if err := WriteString(&payload, resp.Message); err != nil {
		return nil, err
	}
	if err := WriteUint32(&payload, resp.UnreadCount); err != nil {
		return nil, err
	}
	if resp.Data != nil {
		if err := WriteUint8(&payload, 1); err != nil {
			return nil, err
		}
		embedded, err := c.EncodeEnvelope(resp.Data)
		if err != nil {
			return nil, err
		}
		payload.Write(embedded)
	} else {
		if err := WriteUint8(&payload, 0); err != nil {
			return nil, err
		}
	}
	return c.assemble(TagServerResponse, payload.Bytes())
}

func (c BinaryCodec) DecodeResponse(data []byte) (*ServerResponse, error) {
	tag, payload, err := c.splitFrame(data)
	if err != nil {
		return nil, err
	}
	if tag != TagServerResponse {
		return nil, fmt.Errorf("%w: expected server_response frame, got tag 0x%02X", ErrMalformed, tag)
	}

	r := bytes.NewReader(payload)
	resp := &ServerResponse{}

	statusByte, err := ReadUint8(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if statusByte == 0 {
		resp.Status = StatusSuccess
	} else {
		resp.Status = StatusError
	}
	if resp.Message, err = ReadString(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if resp.UnreadCount, err = ReadUint32(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	flag, err := ReadUint8(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if flag == 1 {
		rest := payload[len(payload)-r.Len():]
		embedded, _ := c.Extract(rest)
		if embedded == nil {
			return nil, fmt.Errorf("%w: data flag set but no embedded envelope", ErrMalformed)
		}
		env, err := c.DecodeEnvelope(embedded)
		if err != nil {
			return nil, err
		}
		resp.Data = env
	}
	return resp, nil
}

// Frame is the identity: framing is baked into the encoding.
func (BinaryCodec) Frame(data []byte) []byte { return data }

// Extract returns the next complete frame from buf. An unknown tag advances
// the buffer by one byte; an oversized declared length skips the header.
// Anything shorter than a complete frame leaves the buffer untouched.
func (BinaryCodec) Extract(buf []byte) (frame, rest []byte) {
	if len(buf) < binaryHeaderSize {
		return nil, buf
	}
	if !KnownTag(buf[0]) {
		return nil, buf[1:]
	}
	length := binary.BigEndian.Uint32(buf[1:5])
	if length > MaxPayloadSize {
		return nil, buf[binaryHeaderSize:]
	}
	total := binaryHeaderSize + int(length)
	if len(buf) < total {
		return nil, buf
	}
	return buf[:total], buf[total:]
}
