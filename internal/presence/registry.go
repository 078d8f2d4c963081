// Package presence tracks which user is reachable on which live connection.
package presence

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ConnID identifies one transport connection. The transport owns the
// connection; the registry only keeps the identifier.
type ConnID string

type entryState int

const (
	stateLive entryState = iota
	// stateLingering: the owning connection closed and an offline
	// transition is pending. The user still counts as online.
	stateLingering
)

type entry struct {
	conn  ConnID
	state entryState
}

// Registry maps users to their current connection, with a reverse index
// from connection to user. Last announce wins.
type Registry struct {
	mu     sync.RWMutex
	byUser map[uuid.UUID]entry
	byConn map[ConnID]uuid.UUID
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[uuid.UUID]entry),
		byConn: make(map[ConnID]uuid.UUID),
	}
}

// Announce registers conn as the live connection of userID. A previous
// connection for the same user is silently displaced and returned.
func (r *Registry) Announce(userID uuid.UUID, conn ConnID) (ConnID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// a connection re-announcing as someone else drops its old identity
	if prevUser, ok := r.byConn[conn]; ok && prevUser != userID {
		if e, ok := r.byUser[prevUser]; ok && e.conn == conn {
			delete(r.byUser, prevUser)
		}
	}

	prev, had := r.byUser[userID]
	r.byUser[userID] = entry{conn: conn, state: stateLive}
	r.byConn[conn] = userID

	if had && prev.conn != conn {
		delete(r.byConn, prev.conn)
		return prev.conn, true
	}
	return "", false
}

// Resolve returns the live connection for userID. Lingering entries are
// not reachable.
func (r *Registry) Resolve(userID uuid.UUID) (ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byUser[userID]
	if !ok || e.state != stateLive {
		return "", false
	}
	return e.conn, true
}

// Remove drops the entry of userID regardless of its state.
func (r *Registry) Remove(userID uuid.UUID) (ConnID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byUser[userID]
	if !ok {
		return "", false
	}
	delete(r.byUser, userID)
	delete(r.byConn, e.conn)
	return e.conn, true
}

// Release is called when conn closes. If conn still owns its user's entry
// the entry turns lingering and the user is returned; a displaced or
// unannounced connection yields false.
func (r *Registry) Release(conn ConnID) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn]
	if !ok {
		return uuid.Nil, false
	}
	e := r.byUser[userID]
	if e.conn != conn || e.state != stateLive {
		return uuid.Nil, false
	}
	r.byUser[userID] = entry{conn: conn, state: stateLingering}
	return userID, true
}

// Expire removes userID only if its entry is still the lingering entry of
// conn. It reports whether the user went offline.
func (r *Registry) Expire(userID uuid.UUID, conn ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byUser[userID]
	if !ok || e.conn != conn || e.state != stateLingering {
		return false
	}
	delete(r.byUser, userID)
	delete(r.byConn, conn)
	return true
}

// OwnerOf returns the user whose entry points at conn.
func (r *Registry) OwnerOf(conn ConnID) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.byConn[conn]
	return userID, ok
}

func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byUser[userID]
	return ok
}

// Snapshot returns the online set, live and lingering, sorted.
func (r *Registry) Snapshot() []uuid.UUID {
	r.mu.RLock()
	users := make([]uuid.UUID, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		return bytes.Compare(users[i][:], users[j][:]) < 0
	})
	return users
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
