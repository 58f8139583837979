// Package client implements a minimal chat client: a codec-aware connection
// plus helpers for the common account and messaging operations.
package client

import (
	"fmt"
	"net"
	"time"

	"github.com/twinwire/chat/pkg/protocol"
)

// Incoming is one message from the server: either a response to a request or
// a pushed envelope (chat, join, leave, ...). Exactly one field is set.
type Incoming struct {
	Response *protocol.ServerResponse
	Envelope *protocol.Envelope
}

// Conn is a client connection to a chat server.
type Conn struct {
	conn  net.Conn
	codec protocol.Codec
	buf   []byte
	read  []byte
}

// Dial connects to the server at addr using the named encoding
// ("json" or "custom").
func Dial(addr, encoding string) (*Conn, error) {
	codec, err := protocol.New(encoding)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Conn{
		conn:  conn,
		codec: codec,
		read:  make([]byte, 4096),
	}, nil
}

// Send encodes, frames and writes one envelope.
func (c *Conn) Send(env *protocol.Envelope) error {
	data, err := c.codec.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(c.codec.Frame(data))
	return err
}

// Next blocks until the next message arrives.
func (c *Conn) Next() (*Incoming, error) {
	for {
		frame, err := c.nextFrame()
		if err != nil {
			return nil, err
		}
		if resp, err := c.codec.DecodeResponse(frame); err == nil {
			return &Incoming{Response: resp}, nil
		}
		env, err := c.codec.DecodeEnvelope(frame)
		if err != nil {
			// Skip frames we cannot make sense of
			continue
		}
		return &Incoming{Envelope: env}, nil
	}
}

// NextResponse reads messages until a server response arrives, discarding
// pushed envelopes. Useful for request/response style calls.
func (c *Conn) NextResponse(timeout time.Duration) (*protocol.ServerResponse, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	for {
		in, err := c.Next()
		if err != nil {
			return nil, err
		}
		if in.Response != nil {
			return in.Response, nil
		}
	}
}

func (c *Conn) nextFrame() ([]byte, error) {
	for {
		frame, rest := c.codec.Extract(c.buf)
		c.buf = rest
		if frame != nil {
			if len(frame) == 0 {
				continue
			}
			return frame, nil
		}

		n, err := c.conn.Read(c.read)
		if err != nil {
			return nil, err
		}
		c.buf = append(c.buf, c.read[:n]...)
	}
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Register creates an account and logs it in.
func (c *Conn) Register(username, password string) error {
	return c.Send(&protocol.Envelope{
		Kind:     protocol.KindRegister,
		Sender:   username,
		Password: password,
	})
}

// Login authenticates an existing account.
func (c *Conn) Login(username, password string) error {
	return c.Send(&protocol.Envelope{
		Kind:     protocol.KindLogin,
		Sender:   username,
		Password: password,
	})
}

// Chat broadcasts a message to everyone.
func (c *Conn) Chat(sender, content string) error {
	return c.Send(&protocol.Envelope{
		Kind:      protocol.KindChat,
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	})
}

// DM sends a direct message to one or more recipients.
func (c *Conn) DM(sender, content string, recipients ...string) error {
	return c.Send(&protocol.Envelope{
		Kind:       protocol.KindDM,
		Sender:     sender,
		Content:    content,
		Recipients: recipients,
		Timestamp:  time.Now().UnixMilli(),
	})
}

// Fetch asks for stored history. Zero limit uses the server default.
func (c *Conn) Fetch(sender string, limit uint32) error {
	return c.Send(&protocol.Envelope{
		Kind:       protocol.KindFetch,
		Sender:     sender,
		FetchLimit: limit,
	})
}

// MarkRead marks the given message ids as read.
func (c *Conn) MarkRead(sender string, ids ...uint64) error {
	return c.Send(&protocol.Envelope{
		Kind:       protocol.KindMarkRead,
		Sender:     sender,
		MessageIDs: ids,
	})
}

// MarkReadFrom marks everything from one sender as read.
func (c *Conn) MarkReadFrom(sender, from string) error {
	return c.Send(&protocol.Envelope{
		Kind:       protocol.KindMarkRead,
		Sender:     sender,
		Recipients: []string{from},
	})
}

// Delete removes messages from the conversation with counterpart.
func (c *Conn) Delete(sender, counterpart string, ids ...uint64) error {
	return c.Send(&protocol.Envelope{
		Kind:       protocol.KindDelete,
		Sender:     sender,
		Recipients: []string{counterpart},
		MessageIDs: ids,
	})
}

// DeleteAccount removes the account and all its messages.
func (c *Conn) DeleteAccount(sender string) error {
	return c.Send(&protocol.Envelope{
		Kind:   protocol.KindDeleteAccount,
		Sender: sender,
	})
}

// Logout ends the session.
func (c *Conn) Logout(sender string) error {
	return c.Send(&protocol.Envelope{
		Kind:   protocol.KindLogout,
		Sender: sender,
	})
}
