package server

import (
	"fmt"
	"time"

	"github.com/twinwire/chat/pkg/database"
	"github.com/twinwire/chat/pkg/protocol"
)

// broadcast pushes an envelope to every active session except the named one.
// The envelope is encoded and framed once, then fanned out.
func (s *Server) broadcast(env *protocol.Envelope, exclude string) {
	data, err := s.codec.EncodeEnvelope(env)
	if err != nil {
		errorLog.Printf("Failed to encode %s broadcast: %v", env.Kind, err)
		return
	}
	frame := s.codec.Frame(data)

	for _, sess := range s.registry.Snapshot() {
		if sess.Username == exclude {
			continue
		}
		if err := sess.Conn.WriteFrame(frame); err != nil {
			debugLog.Printf("Broadcast write to %q failed: %v", sess.Username, err)
			continue
		}
		s.metrics.RecordSent(string(env.Kind))
	}
}

// sendTo pushes an envelope to one session. Returns false if the write failed.
func (s *Server) sendTo(sess *Session, env *protocol.Envelope) bool {
	data, err := s.codec.EncodeEnvelope(env)
	if err != nil {
		errorLog.Printf("Failed to encode %s envelope: %v", env.Kind, err)
		return false
	}
	if err := sess.Conn.WriteFrame(s.codec.Frame(data)); err != nil {
		debugLog.Printf("Write to %q failed: %v", sess.Username, err)
		return false
	}
	s.metrics.RecordSent(string(env.Kind))
	return true
}

func (h *handler) checkContent(content string) bool {
	if content == "" {
		h.sendError("message content is required")
		return false
	}
	if len(content) > h.srv.config.MaxMessageLength {
		h.sendError(fmt.Sprintf("message exceeds maximum length of %d bytes", h.srv.config.MaxMessageLength))
		return false
	}
	return true
}

// handleChat routes a public message. A chat with explicit recipients is
// treated as a direct message to each of them.
func (h *handler) handleChat(env *protocol.Envelope) {
	if len(env.Recipients) > 0 {
		h.deliverDirect(env, protocol.KindChat)
		return
	}
	if !h.checkContent(env.Content) {
		return
	}

	ts := env.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	id, err := h.srv.db.StoreMessage(&database.Message{
		Sender:    h.sess.Username,
		Recipient: "",
		Content:   env.Content,
		Timestamp: ts,
		Kind:      string(protocol.KindChat),
		State:     database.StateDelivered,
	})
	if err != nil {
		errorLog.Printf("Failed to store broadcast from %q: %v", h.sess.Username, err)
		h.sendError("failed to store message")
		return
	}

	h.srv.broadcast(&protocol.Envelope{
		Kind:      protocol.KindChat,
		Sender:    h.sess.Username,
		Content:   env.Content,
		Timestamp: ts,
		MessageID: uint64(id),
	}, h.sess.Username)

	h.sendResponse(&protocol.ServerResponse{
		Status:  protocol.StatusSuccess,
		Message: "Message sent",
		Data: &protocol.Envelope{
			Kind:      protocol.KindChat,
			Sender:    h.sess.Username,
			MessageID: uint64(id),
			Timestamp: ts,
		},
	})
}

func (h *handler) handleDM(env *protocol.Envelope) {
	if len(env.Recipients) == 0 {
		h.sendError("direct message needs at least one recipient")
		return
	}
	h.deliverDirect(env, protocol.KindDM)
}

// deliverDirect persists one record per recipient and pushes the message to
// each recipient that is online. Offline recipients keep the message as
// undelivered for their next login or fetch.
func (h *handler) deliverDirect(env *protocol.Envelope, kind protocol.Kind) {
	if !h.checkContent(env.Content) {
		return
	}
	for _, name := range env.Recipients {
		exists, err := h.srv.db.UserExists(name)
		if err != nil {
			errorLog.Printf("Failed to check user %q: %v", name, err)
			h.sendError("failed to validate recipients")
			return
		}
		if !exists {
			h.sendError(fmt.Sprintf("user %q does not exist", name))
			return
		}
	}

	ts := env.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	var ids []uint64
	for _, name := range env.Recipients {
		state := database.StateUndelivered
		target, online := h.srv.registry.Lookup(name)
		if online {
			state = database.StateDelivered
		}

		id, err := h.srv.db.StoreMessage(&database.Message{
			Sender:    h.sess.Username,
			Recipient: name,
			Content:   env.Content,
			Timestamp: ts,
			Kind:      string(kind),
			State:     state,
		})
		if err != nil {
			errorLog.Printf("Failed to store message for %q: %v", name, err)
			h.sendError("failed to store message")
			return
		}
		ids = append(ids, uint64(id))

		if online {
			delivered := h.srv.sendTo(target, &protocol.Envelope{
				Kind:      kind,
				Sender:    h.sess.Username,
				Content:   env.Content,
				Timestamp: ts,
				MessageID: uint64(id),
			})
			if delivered {
				h.srv.metrics.RecordDelivery("delivered")
			}
		}
	}

	h.sendResponse(&protocol.ServerResponse{
		Status:  protocol.StatusSuccess,
		Message: fmt.Sprintf("Message sent to %d recipients", len(env.Recipients)),
		Data: &protocol.Envelope{
			Kind:       kind,
			Sender:     h.sess.Username,
			Recipients: env.Recipients,
			MessageIDs: ids,
			Timestamp:  ts,
		},
	})
}

// handleFetch replays stored history to the requester. Two recipients ask for
// the conversation between them; otherwise the requester's own messages are
// returned. Fetched undelivered messages advance to delivered.
func (h *handler) handleFetch(env *protocol.Envelope) {
	limit := int(env.FetchLimit)
	if limit <= 0 {
		limit = h.srv.config.DefaultFetchLimit
	}

	var (
		msgs []*database.Message
		err  error
	)
	if len(env.Recipients) == 2 {
		// Conversation history is private to its two participants
		if env.Recipients[0] != h.sess.Username && env.Recipients[1] != h.sess.Username {
			h.sendError("you are not part of that conversation")
			return
		}
		msgs, err = h.srv.db.MessagesBetween(env.Recipients[0], env.Recipients[1], limit)
	} else {
		msgs, err = h.srv.db.FetchMessages(h.sess.Username, limit)
	}
	if err != nil {
		errorLog.Printf("Fetch for %q failed: %v", h.sess.Username, err)
		h.sendError("failed to fetch messages")
		return
	}

	h.sendResponse(&protocol.ServerResponse{
		Status:  protocol.StatusSuccess,
		Message: fmt.Sprintf("Fetched %d messages", len(msgs)),
	})

	var fetched []int64
	for _, m := range msgs {
		h.srv.sendTo(h.sess, &protocol.Envelope{
			Kind:      protocol.Kind(m.Kind),
			Sender:    m.Sender,
			Content:   m.Content,
			Timestamp: m.Timestamp,
			MessageID: uint64(m.ID),
		})
		if m.Recipient == h.sess.Username && m.State == database.StateUndelivered {
			fetched = append(fetched, m.ID)
		}
	}

	if len(fetched) > 0 {
		if err := h.srv.db.SetDelivered(fetched); err != nil {
			errorLog.Printf("Failed to mark fetched messages delivered: %v", err)
			return
		}
		for range fetched {
			h.srv.metrics.RecordDelivery("delivered")
		}
	}
}

// handleMarkRead marks messages as read, either by explicit ids or everything
// from one sender. Already read messages stay read.
func (h *handler) handleMarkRead(env *protocol.Envelope) {
	var (
		changed int64
		err     error
	)
	switch {
	case len(env.MessageIDs) > 0:
		ids := make([]int64, len(env.MessageIDs))
		for i, id := range env.MessageIDs {
			ids[i] = int64(id)
		}
		changed, err = h.srv.db.SetRead(ids, h.sess.Username)
	case len(env.Recipients) == 1:
		changed, err = h.srv.db.SetReadFrom(env.Recipients[0], h.sess.Username)
	default:
		h.sendError("mark read needs message ids or a sender")
		return
	}
	if err != nil {
		errorLog.Printf("Mark read for %q failed: %v", h.sess.Username, err)
		h.sendError("failed to mark messages read")
		return
	}
	for i := int64(0); i < changed; i++ {
		h.srv.metrics.RecordDelivery("read")
	}

	unread, err := h.srv.db.UnreadCount(h.sess.Username)
	if err != nil {
		errorLog.Printf("Failed to count unread for %q: %v", h.sess.Username, err)
		h.sendError("failed to count unread messages")
		return
	}
	h.sendResponse(&protocol.ServerResponse{
		Status:      protocol.StatusSuccess,
		Message:     fmt.Sprintf("Marked %d messages read", changed),
		UnreadCount: uint32(unread),
	})
}

// handleDelete removes messages from the conversation between the requester
// and one counterpart, in both directions. The counterpart is told which
// messages disappeared along with their updated unread count.
func (h *handler) handleDelete(env *protocol.Envelope) {
	if len(env.MessageIDs) == 0 || len(env.Recipients) != 1 {
		h.sendError("delete needs message ids and a conversation partner")
		return
	}
	counterpart := env.Recipients[0]

	ids := make([]int64, len(env.MessageIDs))
	for i, id := range env.MessageIDs {
		ids[i] = int64(id)
	}
	deleted, err := h.srv.db.DeleteMessages(ids, h.sess.Username, counterpart)
	if err != nil {
		errorLog.Printf("Delete for %q failed: %v", h.sess.Username, err)
		h.sendError("failed to delete messages")
		return
	}

	h.sendResponse(&protocol.ServerResponse{
		Status:  protocol.StatusSuccess,
		Message: fmt.Sprintf("Deleted %d messages", len(deleted)),
	})
	if len(deleted) == 0 {
		return
	}

	if target, ok := h.srv.registry.Lookup(counterpart); ok {
		deletedIDs := make([]uint64, len(deleted))
		for i, m := range deleted {
			deletedIDs[i] = uint64(m.ID)
		}
		unread, err := h.srv.db.UnreadCount(counterpart)
		if err != nil {
			errorLog.Printf("Failed to count unread for %q: %v", counterpart, err)
			return
		}
		h.srv.sendTo(target, &protocol.Envelope{
			Kind:        protocol.KindDeleteNotification,
			Sender:      h.sess.Username,
			Timestamp:   time.Now().UnixMilli(),
			MessageIDs:  deletedIDs,
			UnreadCount: uint32(unread),
		})
	}
}

// handleDeleteAccount removes the account and everything it sent or received,
// tells everyone else, and closes the connection.
func (h *handler) handleDeleteAccount(env *protocol.Envelope) {
	username := h.sess.Username
	if err := h.srv.db.DeleteUser(username); err != nil {
		errorLog.Printf("Failed to delete account %q: %v", username, err)
		h.sendError("failed to delete account")
		return
	}

	h.sendResponse(&protocol.ServerResponse{
		Status:  protocol.StatusSuccess,
		Message: "Account deleted",
	})
	h.srv.broadcast(&protocol.Envelope{
		Kind:      protocol.KindDeleteAccount,
		Sender:    username,
		Timestamp: time.Now().UnixMilli(),
	}, username)

	// The deletion broadcast already announced the departure
	h.close(false)
}
