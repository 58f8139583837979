package server

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T) *SafeConn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return NewSafeConn(server)
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil)

	sess, err := r.Register("alice", newTestConn(t))
	require.NoError(t, err)
	require.NotNil(t, sess)

	got, ok := r.Lookup("alice")
	assert.True(t, ok)
	assert.Same(t, sess, got)

	_, ok = r.Lookup("bob")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Count())
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry(nil)

	first, err := r.Register("alice", newTestConn(t))
	require.NoError(t, err)

	_, err = r.Register("alice", newTestConn(t))
	assert.ErrorIs(t, err, ErrAlreadyLoggedIn)

	// The original session is untouched
	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestRegistryUnregisterIdempotent(t *testing.T) {
	r := NewRegistry(nil)

	sess, err := r.Register("alice", newTestConn(t))
	require.NoError(t, err)

	assert.True(t, r.Unregister(sess))
	assert.Equal(t, 0, r.Count())

	// Second unregister of the same session is a no-op
	assert.False(t, r.Unregister(sess))
	assert.Equal(t, 0, r.Count())
}

func TestRegistryUnregisterIgnoresStaleSession(t *testing.T) {
	r := NewRegistry(nil)

	old, err := r.Register("alice", newTestConn(t))
	require.NoError(t, err)
	assert.True(t, r.Unregister(old))

	replacement, err := r.Register("alice", newTestConn(t))
	require.NoError(t, err)

	// A handler holding the evicted session cannot remove its successor
	assert.False(t, r.Unregister(old))
	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, replacement, got)
}

// Exactly one caller observes the removal of a given session, no matter how
// many teardown paths race over it. That single winner owns the departure
// announcement for the session.
func TestRegistryUnregisterSingleWinner(t *testing.T) {
	r := NewRegistry(nil)

	sess, err := r.Register("alice", newTestConn(t))
	require.NoError(t, err)

	const attempts = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners int

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Unregister(sess) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 0, r.Count())
}

func TestRegistryActiveSorted(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := r.Register(name, newTestConn(t))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, r.Active())
}

func TestRegistryListMatching(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"alice", "alina", "bob"} {
		_, err := r.Register(name, newTestConn(t))
		require.NoError(t, err)
	}

	matched, err := r.ListMatching("al*")
	require.NoError(t, err)
	require.Len(t, matched, 2)
	assert.Equal(t, "alice", matched[0].Username)
	assert.Equal(t, "alina", matched[1].Username)

	all, err := r.ListMatching("*")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = r.ListMatching("[unclosed")
	assert.Error(t, err)
}

// At most one registration may win for the same username, no matter how many
// connections race.
func TestRegistrySingleSessionUnderConcurrentLogins(t *testing.T) {
	r := NewRegistry(nil)

	const attempts = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners int

	conns := make([]*SafeConn, attempts)
	for i := range conns {
		conns[i] = newTestConn(t)
	}

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Register("alice", conns[i]); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, r.Count())
}
