package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AnnounceAndResolve(t *testing.T) {
	r := NewRegistry()
	user := uuid.New()

	displaced, ok := r.Announce(user, "c1")
	assert.False(t, ok)
	assert.Empty(t, displaced)

	conn, ok := r.Resolve(user)
	require.True(t, ok)
	assert.Equal(t, ConnID("c1"), conn)
	assert.True(t, r.IsOnline(user))

	owner, ok := r.OwnerOf("c1")
	require.True(t, ok)
	assert.Equal(t, user, owner)
}

func TestRegistry_SecondConnectionDisplacesFirst(t *testing.T) {
	r := NewRegistry()
	user := uuid.New()

	r.Announce(user, "c1")
	displaced, ok := r.Announce(user, "c2")
	require.True(t, ok)
	assert.Equal(t, ConnID("c1"), displaced)

	conn, _ := r.Resolve(user)
	assert.Equal(t, ConnID("c2"), conn)

	// the displaced connection closing must not affect the user
	_, released := r.Release("c1")
	assert.False(t, released)
	conn, ok = r.Resolve(user)
	assert.True(t, ok)
	assert.Equal(t, ConnID("c2"), conn)
}

func TestRegistry_ReannounceSameConnection(t *testing.T) {
	r := NewRegistry()
	user := uuid.New()

	r.Announce(user, "c1")
	_, ok := r.Announce(user, "c1")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ConnectionSwitchesIdentity(t *testing.T) {
	r := NewRegistry()
	alice, bob := uuid.New(), uuid.New()

	r.Announce(alice, "c1")
	r.Announce(bob, "c1")

	assert.False(t, r.IsOnline(alice))
	conn, ok := r.Resolve(bob)
	require.True(t, ok)
	assert.Equal(t, ConnID("c1"), conn)
}

func TestRegistry_ReleaseMakesEntryLingering(t *testing.T) {
	r := NewRegistry()
	user := uuid.New()
	r.Announce(user, "c1")

	got, ok := r.Release("c1")
	require.True(t, ok)
	assert.Equal(t, user, got)

	_, reachable := r.Resolve(user)
	assert.False(t, reachable, "lingering entries are not reachable")
	assert.True(t, r.IsOnline(user), "lingering entries still count as online")
	assert.Equal(t, []uuid.UUID{user}, r.Snapshot())

	_, again := r.Release("c1")
	assert.False(t, again)
}

func TestRegistry_ExpireOnlyRemovesMatchingLingeringEntry(t *testing.T) {
	r := NewRegistry()
	user := uuid.New()

	r.Announce(user, "c1")
	assert.False(t, r.Expire(user, "c1"), "live entries never expire")

	r.Release("c1")
	r.Announce(user, "c2")
	assert.False(t, r.Expire(user, "c1"), "reconnect supersedes the lingering entry")
	assert.True(t, r.IsOnline(user))

	r.Release("c2")
	assert.True(t, r.Expire(user, "c2"))
	assert.False(t, r.IsOnline(user))
	_, ok := r.OwnerOf("c2")
	assert.False(t, ok)
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	user := uuid.New()
	r.Announce(user, "c1")

	conn, ok := r.Remove(user)
	require.True(t, ok)
	assert.Equal(t, ConnID("c1"), conn)
	assert.False(t, r.IsOnline(user))

	_, ok = r.Remove(user)
	assert.False(t, ok)
}

func TestRegistry_SnapshotIsSorted(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 20; i++ {
		r.Announce(uuid.New(), ConnID(fmt.Sprintf("c%d", i)))
	}

	snap := r.Snapshot()
	require.Len(t, snap, 20)
	for i := 1; i < len(snap); i++ {
		assert.Less(t, snap[i-1].String(), snap[i].String())
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	users := make([]uuid.UUID, 50)
	for i := range users {
		users[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, u uuid.UUID) {
			defer wg.Done()
			conn := ConnID(fmt.Sprintf("conn-%d", i))
			for j := 0; j < 100; j++ {
				r.Announce(u, conn)
				r.Resolve(u)
				r.Snapshot()
				if j%2 == 0 {
					r.Release(conn)
				}
			}
			r.Announce(u, conn)
		}(i, u)
	}
	wg.Wait()

	assert.Equal(t, len(users), r.Len())
	for _, u := range users {
		_, ok := r.Resolve(u)
		assert.True(t, ok)
	}
}
