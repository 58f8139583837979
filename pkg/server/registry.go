package server

import (
	"errors"
	"path"
	"sort"
	"sync"
	"time"
)

// ErrAlreadyLoggedIn indicates a session already exists for the username.
var ErrAlreadyLoggedIn = errors.New("user already logged in")

// Session represents an authenticated client connection.
type Session struct {
	Username    string
	Conn        *SafeConn
	ConnectedAt time.Time
}

// Registry tracks the single active session per username. Registration is
// strict: a second login for the same name fails with ErrAlreadyLoggedIn,
// and eviction of the old session is the caller's job.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *Metrics
}

// NewRegistry creates an empty session registry.
func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		metrics:  metrics,
	}
}

// Register adds a session for the username. Fails if one already exists.
func (r *Registry) Register(username string, conn *SafeConn) (*Session, error) {
	r.mu.Lock()
	if _, ok := r.sessions[username]; ok {
		r.mu.Unlock()
		return nil, ErrAlreadyLoggedIn
	}
	sess := &Session{
		Username:    username,
		Conn:        conn,
		ConnectedAt: time.Now(),
	}
	r.sessions[username] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordActiveSessions(count)
	}
	return sess, nil
}

// Unregister removes the username's session and reports whether it did.
// Removing an absent or already replaced session is a no-op returning false:
// only the exact session passed in is removed, so a stale handler cannot
// evict its successor. Exactly one caller ever gets true for a given session,
// which is what makes the departure announcement single-shot.
func (r *Registry) Unregister(sess *Session) bool {
	r.mu.Lock()
	current, ok := r.sessions[sess.Username]
	if !ok || current != sess {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, sess.Username)
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordActiveSessions(count)
	}
	return true
}

// Lookup returns the active session for the username, if any.
func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[username]
	return sess, ok
}

// ListMatching returns sessions whose username matches the glob pattern,
// sorted by username. The snapshot is taken under the lock; delivery to the
// returned sessions happens outside it.
func (r *Registry) ListMatching(pattern string) ([]*Session, error) {
	// Validate the pattern up front so a bad glob fails loudly
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}

	r.mu.RLock()
	matched := make([]*Session, 0, len(r.sessions))
	for name, sess := range r.sessions {
		if ok, _ := path.Match(pattern, name); ok {
			matched = append(matched, sess)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Username < matched[j].Username
	})
	return matched, nil
}

// Active returns the usernames of all active sessions, sorted.
func (r *Registry) Active() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Snapshot returns all active sessions in no particular order.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
