package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	s := New("s1", "init", t0)
	assert.Equal(t, StatusOpen, s.Status)
	assert.Equal(t, "init", s.State)
	assert.Empty(t, s.History)
	assert.Empty(t, s.Observers)
	assert.False(t, s.SeatA.Occupied())
	assert.False(t, s.SeatB.Occupied())
	assert.Equal(t, t0, s.LastActivityAt)
	assert.True(t, s.IsLive())
}

func TestFillSeat(t *testing.T) {
	s := New("s1", "init", t0)

	require.NoError(t, s.FillSeat(RoleSeatA, "alice", "c1", "Alice", t0))
	assert.Equal(t, StatusOpen, s.Status)

	assert.ErrorIs(t, s.FillSeat(RoleSeatA, "bob", "c2", "Bob", t0), ErrSeatTaken)
	assert.ErrorIs(t, s.FillSeat(RoleObserver, "bob", "c2", "Bob", t0), ErrInvalidRole)

	require.NoError(t, s.UpsertObserver("bob", "c2", "Bob", t0))
	require.NoError(t, s.FillSeat(RoleSeatB, "bob", "c3", "Bob", t0.Add(time.Second)))
	assert.Equal(t, StatusActive, s.Status)
	assert.Empty(t, s.Observers, "seated identity must leave the observer list")
	assert.Equal(t, t0.Add(time.Second), s.LastActivityAt)
}

func TestFillSeat_Closed(t *testing.T) {
	s := New("s1", "init", t0)
	require.NoError(t, s.Close(OutcomeAbandoned, t0))
	assert.ErrorIs(t, s.FillSeat(RoleSeatA, "alice", "c1", "Alice", t0), ErrClosed)
}

func TestUpsertObserver_RejectsSeated(t *testing.T) {
	s := New("s1", "init", t0)
	require.NoError(t, s.FillSeat(RoleSeatA, "alice", "c1", "Alice", t0))
	assert.ErrorIs(t, s.UpsertObserver("alice", "c9", "Alice", t0), ErrSeatTaken)

	require.NoError(t, s.UpsertObserver("carol", "c2", "Carol", t0))
	require.NoError(t, s.UpsertObserver("carol", "c3", "Carol", t0))
	require.Len(t, s.Observers, 1)
	assert.Equal(t, "c3", s.Observers[0].Channel)
}

func TestRebindAndUnbind(t *testing.T) {
	s := New("s1", "init", t0)
	require.NoError(t, s.FillSeat(RoleSeatA, "alice", "c1", "Alice", t0))
	require.NoError(t, s.UpsertObserver("carol", "c2", "Carol", t0))

	role, identity, ok := s.Unbind("c1", t0)
	require.True(t, ok)
	assert.Equal(t, RoleSeatA, role)
	assert.Equal(t, "alice", identity)
	assert.Equal(t, "alice", s.SeatA.Identity, "seat identity survives disconnect")
	assert.Empty(t, s.SeatA.Channel)

	role, err := s.Rebind("alice", "c5", "", t0)
	require.NoError(t, err)
	assert.Equal(t, RoleSeatA, role)
	assert.Equal(t, "c5", s.SeatA.Channel)
	assert.Equal(t, "Alice", s.SeatA.DisplayName, "empty name keeps stored name")

	role, _, ok = s.Unbind("c2", t0)
	require.True(t, ok)
	assert.Equal(t, RoleObserver, role)
	assert.Empty(t, s.Observers)

	_, _, ok = s.Unbind("unknown", t0)
	assert.False(t, ok)
	_, _, ok = s.Unbind("", t0)
	assert.False(t, ok)

	_, err = s.Rebind("nobody", "c7", "", t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRebind_ObserverKeepsName(t *testing.T) {
	s := New("s1", "init", t0)
	require.NoError(t, s.UpsertObserver("carol", "c2", "Carol", t0))

	role, err := s.Rebind("carol", "c6", "", t0)
	require.NoError(t, err)
	assert.Equal(t, RoleObserver, role)
	require.Len(t, s.Observers, 1)
	assert.Equal(t, "c6", s.Observers[0].Channel)
	assert.Equal(t, "Carol", s.DisplayNameOf("carol"), "empty name keeps stored name")

	_, err = s.Rebind("carol", "c7", "Caz", t0)
	require.NoError(t, err)
	assert.Equal(t, "Caz", s.DisplayNameOf("carol"))
}

func TestBindingOfAndChannels(t *testing.T) {
	s := New("s1", "init", t0)
	require.NoError(t, s.FillSeat(RoleSeatA, "alice", "c1", "Alice", t0))
	require.NoError(t, s.FillSeat(RoleSeatB, "bob", "c2", "Bob", t0))
	require.NoError(t, s.UpsertObserver("carol", "c3", "Carol", t0))

	role, identity, ok := s.BindingOf("c2")
	require.True(t, ok)
	assert.Equal(t, RoleSeatB, role)
	assert.Equal(t, "bob", identity)

	_, _, ok = s.BindingOf("")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"c1", "c2", "c3"}, s.Channels())
	assert.Equal(t, "Carol", s.DisplayNameOf("carol"))
	assert.Empty(t, s.DisplayNameOf("zed"))
}

func TestApplyMoveAndClose(t *testing.T) {
	s := New("s1", "init", t0)
	assert.ErrorIs(t, s.ApplyMove(RoleSeatA, "m", "m", "next", t0), ErrClosed, "open session accepts no moves")

	require.NoError(t, s.FillSeat(RoleSeatA, "alice", "c1", "Alice", t0))
	require.NoError(t, s.FillSeat(RoleSeatB, "bob", "c2", "Bob", t0))
	assert.ErrorIs(t, s.ApplyMove(RoleObserver, "m", "m", "next", t0), ErrInvalidRole)

	require.NoError(t, s.ApplyMove(RoleSeatA, "e2e4", "e4", "s2", t0))
	require.Len(t, s.History, 1)
	assert.Equal(t, "s2", s.State)
	assert.Equal(t, RoleSeatA, s.History[0].Seat)

	assert.ErrorIs(t, s.Close(OutcomeNone, t0), ErrInvalidOutcome)
	require.NoError(t, s.Close(OutcomeDraw, t0))
	assert.Equal(t, StatusClosed, s.Status)
	require.NotNil(t, s.ClosedAt)
	assert.ErrorIs(t, s.Close(OutcomeSeatAWins, t0), ErrClosed, "outcome is written once")
	assert.Equal(t, OutcomeDraw, s.Outcome)
}

func TestReset(t *testing.T) {
	s := New("s1", "init", t0)
	require.NoError(t, s.FillSeat(RoleSeatA, "alice", "c1", "Alice", t0))
	require.NoError(t, s.FillSeat(RoleSeatB, "bob", "c2", "Bob", t0))
	require.NoError(t, s.ApplyMove(RoleSeatA, "e2e4", "e4", "s2", t0))
	require.NoError(t, s.Close(OutcomeSeatAWins, t0))

	s.Reset("init", t0.Add(time.Minute))
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, "init", s.State)
	assert.Empty(t, s.History)
	assert.Equal(t, OutcomeNone, s.Outcome)
	assert.Nil(t, s.ClosedAt)
	assert.Equal(t, "alice", s.SeatA.Identity)
}

func TestClone_IsDeep(t *testing.T) {
	s := New("s1", "init", t0)
	require.NoError(t, s.UpsertObserver("carol", "c3", "Carol", t0))
	require.NoError(t, s.Close(OutcomeAbandoned, t0))

	c := s.Clone()
	c.Observers[0].Channel = "changed"
	*c.ClosedAt = t0.Add(time.Hour)

	assert.Equal(t, "c3", s.Observers[0].Channel)
	assert.Equal(t, t0, *s.ClosedAt)
	assert.Nil(t, (*Session)(nil).Clone())
}
