package server

import (
	"net"
	"sync"
)

// SafeConn wraps a net.Conn with automatic write synchronization to prevent
// concurrent writes from corrupting wire frames.
//
// Request handlers and broadcast senders may try to write to the same
// connection simultaneously. Without synchronization their frame bytes
// interleave on the wire, corrupting frames. SafeConn encapsulates the
// connection and its write mutex so unsynchronized writes are impossible.
type SafeConn struct {
	conn net.Conn
	mu   sync.Mutex // Protects writes to conn
}

// NewSafeConn wraps a net.Conn with write synchronization
func NewSafeConn(conn net.Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// WriteFrame writes an already framed message to the connection with
// synchronization. This is the only way to write to the connection.
func (sc *SafeConn) WriteFrame(frame []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, err := sc.conn.Write(frame)
	return err
}

// Read reads raw bytes from the connection.
// Reads don't need write synchronization.
func (sc *SafeConn) Read(p []byte) (int, error) {
	return sc.conn.Read(p)
}

// Close closes the underlying connection
func (sc *SafeConn) Close() error {
	return sc.conn.Close()
}

// RemoteAddr returns the remote network address
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}
