package server

import (
	"fmt"
	"io"
	"time"

	"github.com/twinwire/chat/pkg/database"
	"github.com/twinwire/chat/pkg/protocol"
)

type connState int

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateClosed
)

const readBufferSize = 4096

// handler owns one client connection: it accumulates raw bytes, extracts and
// decodes frames strictly in order, and dispatches them according to the
// connection state.
type handler struct {
	srv   *Server
	conn  *SafeConn
	state connState
	sess  *Session // nil until authenticated
	buf   []byte
}

func newHandler(srv *Server, conn *SafeConn) *handler {
	return &handler{srv: srv, conn: conn}
}

func (h *handler) run() {
	defer h.close(true)

	readBuf := make([]byte, readBufferSize)
	for {
		n, err := h.conn.Read(readBuf)
		if err != nil {
			if err != io.EOF {
				debugLog.Printf("Read error from %s: %v", h.conn.RemoteAddr(), err)
			}
			return
		}
		h.buf = append(h.buf, readBuf[:n]...)

		for {
			frame, rest := h.srv.codec.Extract(h.buf)
			h.buf = rest
			if frame == nil {
				break
			}
			// Blank lines between JSON frames carry nothing
			if len(frame) == 0 {
				continue
			}
			h.dispatch(frame)
			if h.state == stateClosed {
				return
			}
		}
	}
}

// close tears the connection down exactly once: unregister, LEAVE broadcast
// for authenticated sessions, then close the socket.
func (h *handler) close(sendLeave bool) {
	if h.state == stateClosed {
		return
	}
	h.state = stateClosed

	if h.sess != nil {
		// Unregister reports whether this session was still the current one.
		// An evicted session was already unregistered and announced by the
		// login that replaced it; announcing again would be a phantom LEAVE.
		removed := h.srv.registry.Unregister(h.sess)
		if sendLeave && removed {
			h.srv.broadcast(&protocol.Envelope{
				Kind:      protocol.KindLeave,
				Sender:    h.sess.Username,
				Timestamp: time.Now().UnixMilli(),
			}, h.sess.Username)
		}
		h.sess = nil
	}
	h.conn.Close()
	h.srv.metrics.RecordDisconnection()
}

func (h *handler) dispatch(frame []byte) {
	env, err := h.srv.codec.DecodeEnvelope(frame)
	if err != nil {
		debugLog.Printf("Decode error from %s: %v", h.conn.RemoteAddr(), err)
		h.sendError("malformed message")
		return
	}
	h.srv.metrics.RecordReceived(string(env.Kind))

	if h.state == stateUnauthenticated {
		switch env.Kind {
		case protocol.KindRegister:
			h.handleRegister(env)
		case protocol.KindLogin:
			h.handleLogin(env)
		default:
			h.sendError("authentication required")
		}
		return
	}

	switch env.Kind {
	case protocol.KindChat:
		h.handleChat(env)
	case protocol.KindDM:
		h.handleDM(env)
	case protocol.KindFetch:
		h.handleFetch(env)
	case protocol.KindMarkRead:
		h.handleMarkRead(env)
	case protocol.KindDelete:
		h.handleDelete(env)
	case protocol.KindDeleteAccount:
		h.handleDeleteAccount(env)
	case protocol.KindLogout:
		h.handleLogout(env)
	case protocol.KindLogin, protocol.KindRegister:
		h.sendError("already logged in")
	default:
		h.sendError(fmt.Sprintf("unsupported message type %q", env.Kind))
	}
}

func validUsername(name string) bool {
	if len(name) < 2 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}

func (h *handler) handleRegister(env *protocol.Envelope) {
	if !validUsername(env.Sender) {
		h.sendError("username must be at least 2 characters (letters, digits, underscore)")
		return
	}
	if env.Password == "" {
		h.sendError("password is required")
		return
	}

	if err := h.srv.db.CreateUser(env.Sender, env.Password); err != nil {
		if err == database.ErrDuplicateUser {
			h.sendError(fmt.Sprintf("username %q is already taken", env.Sender))
		} else {
			errorLog.Printf("Failed to create user %q: %v", env.Sender, err)
			h.sendError("registration failed")
		}
		return
	}

	// Registration logs the new account straight in
	h.login(env.Sender, fmt.Sprintf("Welcome, %s! Account created.", env.Sender))
}

func (h *handler) handleLogin(env *protocol.Envelope) {
	if err := h.srv.db.VerifyUser(env.Sender, env.Password); err != nil {
		switch err {
		case database.ErrUserNotFound:
			h.sendError(fmt.Sprintf("user %q does not exist", env.Sender))
		case database.ErrInvalidCredentials:
			h.sendError("invalid password")
		default:
			errorLog.Printf("Failed to verify user %q: %v", env.Sender, err)
			h.sendError("login failed")
		}
		return
	}

	h.login(env.Sender, fmt.Sprintf("Welcome back, %s!", env.Sender))
}

// login registers the session, evicting any previous connection for the same
// username, and announces the arrival. The eviction is fully settled before
// the new JOIN goes out.
func (h *handler) login(username, greeting string) {
	if old, ok := h.srv.registry.Lookup(username); ok {
		debugLog.Printf("Evicting previous session for %q", username)
		// Unregister before closing the socket so the evicted handler's
		// teardown loses the race for the departure announcement.
		if h.srv.registry.Unregister(old) {
			h.srv.broadcast(&protocol.Envelope{
				Kind:      protocol.KindLeave,
				Sender:    username,
				Timestamp: time.Now().UnixMilli(),
			}, username)
		}
		old.Conn.Close()
		h.srv.metrics.RecordEviction()
	}

	sess, err := h.srv.registry.Register(username, h.conn)
	if err != nil {
		// Another login for the same name won the race
		h.sendError("user already logged in")
		return
	}
	h.sess = sess
	h.state = stateAuthenticated

	h.srv.broadcast(&protocol.Envelope{
		Kind:      protocol.KindJoin,
		Sender:    username,
		Timestamp: time.Now().UnixMilli(),
	}, username)

	allUsers, err := h.srv.db.AllUsers()
	if err != nil {
		errorLog.Printf("Failed to list users: %v", err)
	}
	h.sendResponse(&protocol.ServerResponse{
		Status:  protocol.StatusSuccess,
		Message: greeting,
		Data: &protocol.Envelope{
			Kind:        protocol.KindLogin,
			Sender:      username,
			Timestamp:   time.Now().UnixMilli(),
			Recipients:  allUsers,
			ActiveUsers: h.srv.registry.Active(),
		},
	})

	unread, err := h.srv.db.UnreadCount(username)
	if err != nil {
		errorLog.Printf("Failed to count unread for %q: %v", username, err)
		return
	}
	if unread > 0 {
		h.sendResponse(&protocol.ServerResponse{
			Status:      protocol.StatusSuccess,
			Message:     fmt.Sprintf("You have %d unread messages", unread),
			UnreadCount: uint32(unread),
		})
	}
}

func (h *handler) handleLogout(env *protocol.Envelope) {
	h.sendResponse(&protocol.ServerResponse{
		Status:  protocol.StatusSuccess,
		Message: "Logged out",
	})
	h.close(true)
}

func (h *handler) sendResponse(resp *protocol.ServerResponse) {
	data, err := h.srv.codec.EncodeResponse(resp)
	if err != nil {
		errorLog.Printf("Failed to encode response: %v", err)
		return
	}
	if err := h.conn.WriteFrame(h.srv.codec.Frame(data)); err != nil {
		debugLog.Printf("Write error to %s: %v", h.conn.RemoteAddr(), err)
		return
	}
	h.srv.metrics.RecordSent(string(protocol.KindServerResponse))
}

func (h *handler) sendError(msg string) {
	h.sendResponse(&protocol.ServerResponse{
		Status:  protocol.StatusError,
		Message: msg,
	})
}
