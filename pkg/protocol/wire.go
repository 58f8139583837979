package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// Primitive binary field helpers. All multi-byte values are big-endian.
// Strings are 2-byte length-prefixed UTF-8.

var (
	// ErrStringTooLong means a string exceeds the 2-byte length prefix.
	ErrStringTooLong = errors.New("string exceeds 65535 bytes")
	// ErrListTooLong means a list exceeds its count prefix.
	ErrListTooLong = errors.New("list exceeds count prefix")
)

func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func WriteUint16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func WriteInt64(w io.Writer, v int64) error {
	return WriteUint64(w, uint64(v))
}

// WriteString writes a 2-byte big-endian length followed by the UTF-8 bytes.
func WriteString(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return ErrStringTooLong
	}
	if err := WriteUint16(w, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// WriteStringList writes a 1-byte count followed by each string.
func WriteStringList(w io.Writer, list []string) error {
	if len(list) > math.MaxUint8 {
		return ErrListTooLong
	}
	if err := WriteUint8(w, uint8(len(list))); err != nil {
		return err
	}
	for _, s := range list {
		if err := WriteString(w, s); err != nil {
			return err
		}
	}
	return nil
}

// WriteIDList writes a 2-byte count followed by 8-byte ids.
func WriteIDList(w io.Writer, ids []uint64) error {
	if len(ids) > math.MaxUint16 {
		return ErrListTooLong
	}
	if err := WriteUint16(w, uint16(len(ids))); err != nil {
		return err
	}
	for _, id := range ids {
		if err := WriteUint64(w, id); err != nil {
			return err
		}
	}
	return nil
}

func ReadUint8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func ReadUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func ReadUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func ReadInt64(r io.Reader) (int64, error) {
	v, err := ReadUint64(r)
	return int64(v), err
}

// ReadString reads a 2-byte length prefix and that many UTF-8 bytes.
func ReadString(r io.Reader) (string, error) {
	length, err := ReadUint16(r)
	if err != nil {
		return "", err
	}
	if length == 0 {
		return "", nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadStringList reads a 1-byte count and that many strings. Returns nil for
// an empty list so decoded envelopes compare equal to their originals.
func ReadStringList(r io.Reader) ([]string, error) {
	count, err := ReadUint8(r)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	list := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		s, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, nil
}

// ReadIDList reads a 2-byte count and that many 8-byte ids.
func ReadIDList(r io.Reader) ([]uint64, error) {
	count, err := ReadUint16(r)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	ids := make([]uint64, 0, count)
	for i := 0; i < int(count); i++ {
		id, err := ReadUint64(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
