package session

import (
	"testing"
	"time"

	"github.com/cbodonnell/tether/pkg/chat"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(maxSessions int) *Registry {
	return NewRegistry(NewRegistryOptions{
		MaxSessions: maxSessions,
		GracePeriod: 10 * time.Second,
		InputRate:   100,
		InputBurst:  10,
	})
}

func TestRegistry_SmallestFreeID(t *testing.T) {
	r := newTestRegistry(8)
	now := time.Unix(1000, 0)

	var ids []byte
	for i := 0; i < 3; i++ {
		s, err := r.Add(AddOptions{ConnectionID: uint32(100 + i), Now: now})
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []byte{1, 2, 3}, ids)

	r.Remove(2, now)
	s, err := r.Add(AddOptions{ConnectionID: 200, Now: now})
	require.NoError(t, err)
	assert.Equal(t, byte(2), s.ID, "freed id is reused")

	got, ok := r.GetByConnection(200)
	require.True(t, ok)
	assert.Equal(t, s, got)
	assert.Equal(t, 3, r.Count())
}

func TestRegistry_Full(t *testing.T) {
	r := newTestRegistry(2)
	now := time.Now()
	_, err := r.Add(AddOptions{Now: now})
	require.NoError(t, err)
	_, err = r.Add(AddOptions{Now: now})
	require.NoError(t, err)
	_, err = r.Add(AddOptions{Now: now})
	assert.True(t, IsRegistryFull(err))
}

func TestRegistry_AllSafeDuringRemoval(t *testing.T) {
	r := newTestRegistry(8)
	now := time.Now()
	for i := 0; i < 5; i++ {
		_, err := r.Add(AddOptions{Now: now})
		require.NoError(t, err)
	}

	visited := 0
	for _, s := range r.All() {
		visited++
		if s.ID%2 == 1 {
			r.Remove(s.ID, now)
		}
	}
	assert.Equal(t, 5, visited)

	var remaining []byte
	for _, s := range r.All() {
		remaining = append(remaining, s.ID)
	}
	assert.Equal(t, []byte{2, 4}, remaining)
}

func TestRegistry_RemoveReleasesQueues(t *testing.T) {
	r := newTestRegistry(4)
	now := time.Now()
	s, err := r.Add(AddOptions{Now: now})
	require.NoError(t, err)
	s.EnqueuePosition(5)
	s.EntityEventLastSent[3] = now
	s.ChatOutbox.Push(chat.Message{Text: "hi"})

	assert.Nil(t, r.Remove(s.ID, now), "no actor, nothing lingers")
	assert.Empty(t, s.PendingPositionUpdates)
	assert.Empty(t, s.EntityEventLastSent)
	assert.Empty(t, s.ChatOutbox.Pending())
	_, ok := r.Get(s.ID)
	assert.False(t, ok)
	assert.Nil(t, r.Remove(s.ID, now), "double remove is harmless")
}

func TestRegistry_LingerAndReclaim(t *testing.T) {
	r := newTestRegistry(4)
	now := time.Unix(5000, 0)
	s, err := r.Add(AddOptions{UserID: "user-1", Now: now})
	require.NoError(t, err)
	s.CharacterID = 40

	l := r.Remove(s.ID, now)
	require.NotNil(t, l)
	assert.Equal(t, uint16(40), l.CharacterID)
	assert.Equal(t, now.Add(10*time.Second), l.Expires)

	_, ok := r.Reclaim(l.Token, "someone-else")
	assert.False(t, ok)
	_, ok = r.Reclaim(uuid.New(), "user-1")
	assert.False(t, ok)

	got, ok := r.Reclaim(l.Token, "user-1")
	require.True(t, ok)
	assert.Equal(t, l, got)
	assert.Equal(t, 0, r.LingeringCount())
}

func TestRegistry_ExpireLingering(t *testing.T) {
	r := newTestRegistry(4)
	now := time.Unix(5000, 0)
	s, err := r.Add(AddOptions{UserID: "user-1", Now: now})
	require.NoError(t, err)
	s.CharacterID = 40
	r.Remove(s.ID, now)

	assert.Empty(t, r.ExpireLingering(now.Add(9*time.Second)))
	expired := r.ExpireLingering(now.Add(10 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, uint16(40), expired[0].CharacterID)
	assert.Empty(t, r.ExpireLingering(now.Add(time.Hour)))
}

func TestPermissions(t *testing.T) {
	p := DefaultPermissions
	assert.True(t, p.Has(PermissionChat))
	assert.False(t, p.Has(PermissionKick))
	p.Grant(PermissionKick | PermissionManageRound)
	assert.True(t, p.Has(PermissionKick|PermissionManageRound))
	p.Revoke(PermissionKick)
	assert.False(t, p.Has(PermissionKick))
	assert.True(t, AllPermissions.Has(PermissionConsoleCommands))
}

func TestEnqueuePositionDeduplicates(t *testing.T) {
	s := &Session{}
	s.EnqueuePosition(3)
	s.EnqueuePosition(4)
	s.EnqueuePosition(3)
	assert.Equal(t, []uint16{3, 4}, s.PendingPositionUpdates)
}
