package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/amoylab/gameroom/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestController_TwoPlayerScenario(t *testing.T) {
	h := newHarness(t, nil)

	a1 := h.connect(t, "U1", "c1")
	assert.Equal(t, session.RoleSeatA, a1.Role)
	a2 := h.connect(t, "U2", "c2")
	assert.Equal(t, session.RoleSeatB, a2.Role)
	assert.Equal(t, a1.Session.ID, a2.Session.ID)
	assert.Equal(t, session.StatusActive, h.active(t).Status)

	h.events.reset()
	require.NoError(t, h.move("c1", "ok"))
	for _, ch := range []string{"c1", "c2"} {
		assert.Equal(t, []EventType{EventTransitionApplied, EventStateSnapshot, EventHistorySnapshot}, h.events.to(ch))
	}
	assert.Len(t, h.active(t).History, 1)

	require.NoError(t, h.ctrl.Disconnect(context.Background(), "c2"))
	s := h.active(t)
	assert.Equal(t, "U2", s.SeatB.Identity)
	assert.Empty(t, s.SeatB.Channel)

	a2 = h.connect(t, "U2", "c2b")
	assert.Equal(t, session.RoleSeatB, a2.Role)
	assert.True(t, a2.Recovered)

	s = h.active(t)
	assert.Len(t, s.History, 1)
	assert.Equal(t, "1", s.State)
	assert.Empty(t, s.Observers, "no new entry created on reconnect")
}

func TestController_ConnectEventOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t, "U1", "c1")
	h.events.reset()

	h.connect(t, "U2", "c2")

	assert.Equal(t, []EventType{
		EventRoleAssigned, EventStateSnapshot, EventHistorySnapshot, EventRosterChanged,
	}, h.events.to("c2"))
	assert.Equal(t, []EventType{EventRosterChanged, EventParticipantJoined}, h.events.to("c1"))

	data, ok := h.events.last("c2", EventRoleAssigned)
	require.True(t, ok)
	assigned := data.(RoleAssignedData)
	assert.Equal(t, session.RoleSeatB, assigned.Role)
	assert.False(t, assigned.Recovered)

	data, ok = h.events.last("c1", EventRosterChanged)
	require.True(t, ok)
	roster := data.(RosterData)
	assert.Equal(t, "U1", roster.SeatA.Identity)
	assert.Equal(t, "U2", roster.SeatB.Identity)
	assert.Equal(t, session.StatusActive, roster.Status)

	data, ok = h.events.last("c2", EventStateSnapshot)
	require.True(t, ok)
	assert.Equal(t, session.RoleSeatA, data.(StateData).Turn)
}

func TestController_ReconnectAnnouncesRecovery(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t, "U1", "c1")
	h.connect(t, "U2", "c2")
	require.NoError(t, h.ctrl.Disconnect(context.Background(), "c1"))
	assert.Equal(t, []EventType{EventParticipantLeft, EventRosterChanged}, h.events.to("c2")[len(h.events.to("c2"))-2:])

	h.events.reset()
	a := h.connect(t, "U1", "c1b")
	assert.Equal(t, session.RoleSeatA, a.Role)
	assert.Equal(t, []EventType{EventRosterChanged, EventParticipantReconnected}, h.events.to("c2"))

	data, _ := h.events.last("c1b", EventRoleAssigned)
	assert.True(t, data.(RoleAssignedData).Recovered)
}

func TestController_ThirdIdentityObserves(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t, "U1", "c1")
	h.connect(t, "U2", "c2")
	a := h.connect(t, "U3", "c3")
	assert.Equal(t, session.RoleObserver, a.Role)

	err := h.move("c3", "ok")
	assert.Equal(t, DenyNotAParticipant, denyReason(t, err))

	// observers are dropped on disconnect and join again as new observers
	require.NoError(t, h.ctrl.Disconnect(context.Background(), "c3"))
	assert.Empty(t, h.active(t).Observers)
	a = h.connect(t, "U3", "c3b")
	assert.Equal(t, session.RoleObserver, a.Role)
	assert.False(t, a.Recovered)
}

func TestController_TurnAuthorization(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t, "U1", "c1")

	err := h.move("c1", "ok")
	assert.Equal(t, DenyNoActiveSession, denyReason(t, err), "open session accepts no moves")

	h.connect(t, "U2", "c2")

	err = h.move("c2", "ok")
	assert.Equal(t, DenyNotYourTurn, denyReason(t, err))
	assert.Empty(t, h.active(t).History)

	require.NoError(t, h.move("c1", "ok"))
	assert.Len(t, h.active(t).History, 1)

	err = h.move("c1", "ok")
	assert.Equal(t, DenyNotYourTurn, denyReason(t, err))

	err = h.move("c2", "bogus")
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
	assert.Len(t, h.active(t).History, 1)

	err = h.move("unknown-channel", "ok")
	assert.Equal(t, DenyNoActiveSession, denyReason(t, err))

	assert.Equal(t, 2, h.metrics.denied[string(DenyNotYourTurn)])
}

func TestController_TerminalTransition(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect(t, "U1", "c1")
	h.connect(t, "U2", "c2")
	h.connect(t, "U3", "c3")

	require.NoError(t, h.move("c1", "ok"))
	h.events.reset()
	require.NoError(t, h.move("c2", "win"))

	for _, ch := range []string{"c1", "c2", "c3"} {
		assert.Equal(t, []EventType{
			EventTransitionApplied, EventStateSnapshot, EventHistorySnapshot, EventActivityClosed,
		}, h.events.to(ch))
	}

	s, err := h.store.Get(context.Background(), a.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusClosed, s.Status)
	assert.Equal(t, session.OutcomeSeatBWins, s.Outcome)
	require.NotNil(t, s.ClosedAt)

	err = h.move("c1", "ok")
	assert.Equal(t, DenyNoActiveSession, denyReason(t, err))

	_, err = h.store.FindActive(context.Background())
	assert.ErrorIs(t, err, session.ErrNotFound)

	// a newcomer gets a fresh session
	b := h.connect(t, "U4", "c4")
	assert.NotEqual(t, a.Session.ID, b.Session.ID)
	assert.Equal(t, session.RoleSeatA, b.Role)
}

func TestController_ResetActivity(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t, "U1", "c1")
	h.connect(t, "U2", "c2")
	h.connect(t, "U3", "c3")
	require.NoError(t, h.move("c1", "draw"))

	err := h.ctrl.ResetActivity(context.Background(), "c3")
	assert.Equal(t, DenyNotAParticipant, denyReason(t, err))

	h.events.reset()
	require.NoError(t, h.ctrl.ResetActivity(context.Background(), "c2"))

	s := h.active(t)
	assert.Equal(t, session.StatusActive, s.Status)
	assert.Equal(t, "0", s.State)
	assert.Empty(t, s.History)
	assert.Equal(t, session.OutcomeNone, s.Outcome)
	assert.Equal(t, "U1", s.SeatA.Identity)
	assert.Len(t, s.Observers, 1)

	assert.Equal(t, []EventType{
		EventActivityReset, EventStateSnapshot, EventHistorySnapshot, EventRoleAssigned,
	}, h.events.to("c3"))
	data, _ := h.events.last("c3", EventRoleAssigned)
	assert.Equal(t, session.RoleObserver, data.(RoleAssignedData).Role)

	require.NoError(t, h.move("c1", "ok"))
}

func TestController_ResetBlockedByNewerSession(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t, "U1", "c1")
	h.connect(t, "U2", "c2")
	require.NoError(t, h.move("c1", "win"))

	h.connect(t, "U9", "c9") // opens a new session

	err := h.ctrl.ResetActivity(context.Background(), "c1")
	assert.ErrorIs(t, err, session.ErrActiveExists)
}

func TestController_ChatAndReady(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t, "U1", "c1")
	h.connect(t, "U2", "c2")
	h.connect(t, "U3", "c3")
	h.events.reset()

	require.NoError(t, h.ctrl.SendChat(context.Background(), "c3", "  hello  "))
	for _, ch := range []string{"c1", "c2", "c3"} {
		data, ok := h.events.last(ch, EventChatMessage)
		require.True(t, ok)
		msg := data.(ChatData)
		assert.Equal(t, "hello", msg.Text)
		assert.Equal(t, session.RoleObserver, msg.Role)
		assert.Equal(t, "name-U3", msg.DisplayName)
	}

	assert.ErrorIs(t, h.ctrl.SendChat(context.Background(), "c1", "   "), session.ErrInvalidInput)
	long := make([]byte, MaxChatLength+1)
	for i := range long {
		long[i] = 'x'
	}
	assert.ErrorIs(t, h.ctrl.SendChat(context.Background(), "c1", string(long)), session.ErrInvalidInput)

	require.NoError(t, h.ctrl.MarkReady(context.Background(), "c2"))
	data, ok := h.events.last("c1", EventPlayerReady)
	require.True(t, ok)
	assert.Equal(t, session.RoleSeatB, data.(ReadyData).Role)

	err := h.ctrl.MarkReady(context.Background(), "c3")
	assert.Equal(t, DenyNotAParticipant, denyReason(t, err))
}

func TestController_RequestStateAndStats(t *testing.T) {
	h := newHarness(t, nil)
	a := h.connect(t, "U1", "c1")
	h.connect(t, "U2", "c2")
	require.NoError(t, h.move("c1", "ok"))
	h.clock.Advance(90 * time.Second)
	h.events.reset()

	require.NoError(t, h.ctrl.RequestState(context.Background(), "c2"))
	assert.Equal(t, []EventType{EventStateSnapshot, EventHistorySnapshot}, h.events.to("c2"))
	assert.Empty(t, h.events.to("c1"))

	require.NoError(t, h.ctrl.RequestStats(context.Background(), "c2"))
	data, ok := h.events.last("c2", EventStatsSnapshot)
	require.True(t, ok)
	stats := data.(*Stats)
	assert.Equal(t, 1, stats.TotalMoves)
	assert.Equal(t, int64(90), stats.DurationSeconds)
	assert.Equal(t, "name-U1", stats.SeatA)

	got, err := h.ctrl.Stats(context.Background(), a.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, stats.SessionID, got.SessionID)

	_, err = h.ctrl.Stats(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)

	err = h.ctrl.RequestState(context.Background(), "nope")
	assert.Equal(t, DenyNoActiveSession, denyReason(t, err))
}

func TestController_Overview(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	o, err := h.ctrl.Overview(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, ActionNewGame, o.Action)
	assert.Nil(t, o.Session)

	h.connect(t, "U1", "c1")
	o, err = h.ctrl.Overview(ctx, "U2")
	require.NoError(t, err)
	assert.Equal(t, ActionJoinGame, o.Action)

	h.connect(t, "U2", "c2")
	o, err = h.ctrl.Overview(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, ActionContinueGame, o.Action)
	assert.Equal(t, session.RoleSeatA, o.Role)
	assert.Equal(t, session.RoleSeatA, o.Session.Turn)

	o, err = h.ctrl.Overview(ctx, "U3")
	require.NoError(t, err)
	assert.Equal(t, ActionSpectateGame, o.Action)
	assert.Empty(t, o.Role)

	list, err := h.ctrl.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "U2", list[0].SeatB.Identity)

	s, role, err := h.ctrl.Lookup(ctx, "U2")
	require.NoError(t, err)
	assert.Equal(t, session.RoleSeatB, role)
	assert.Equal(t, list[0].ID, s.ID)

	_, _, err = h.ctrl.Lookup(ctx, "U3")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestController_ConcurrentConnects(t *testing.T) {
	h := newHarness(t, nil)
	const n = 20

	var wg sync.WaitGroup
	roles := make([]session.Role, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := h.ctrl.Connect(context.Background(), fmt.Sprintf("u%d", i), fmt.Sprintf("c%d", i), "")
			if assert.NoError(t, err) {
				roles[i] = a.Role
			}
		}(i)
	}
	wg.Wait()

	count := map[session.Role]int{}
	for _, r := range roles {
		count[r]++
	}
	assert.Equal(t, 1, count[session.RoleSeatA])
	assert.Equal(t, 1, count[session.RoleSeatB])
	assert.Equal(t, n-2, count[session.RoleObserver])

	live, err := h.store.List(context.Background(), session.StatusOpen, session.StatusActive)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Len(t, live[0].Observers, n-2)
}

func TestController_ReportError(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.ReportError("c1", deny(DenyNotYourTurn))
	h.ctrl.ReportError("c1", fmt.Errorf("%w: illegal move", session.ErrInvalidTransition))
	h.ctrl.ReportError("c1", nil)

	assert.Equal(t, []EventType{EventAuthorizationDenied, EventOperationFailed}, h.events.to("c1"))
	data, _ := h.events.last("c1", EventAuthorizationDenied)
	assert.Equal(t, DenyNotYourTurn, data.(DeniedData).Reason)
	data, _ = h.events.last("c1", EventOperationFailed)
	failed := data.(FailedData)
	assert.Equal(t, "invalid_transition", failed.Category)
	assert.Contains(t, failed.Message, "illegal move")
	assert.False(t, failed.Transient)
}

func TestController_RejectsEmptyIdentity(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.ctrl.Connect(context.Background(), "", "c1", "")
	assert.ErrorIs(t, err, session.ErrInvalidInput)
}

func TestController_CancelledCallerStillCommits(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t, "U1", "c1")
	h.connect(t, "U2", "c2")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.ctrl.SubmitTransition(ctx, "c1", json.RawMessage(`"ok"`)))
	assert.Len(t, h.active(t).History, 1)
}

// conflictStore fails the first n updates with ErrConflict after letting a
// competing write through.
type conflictStore struct {
	session.Store
	mu        sync.Mutex
	conflicts int
}

func (s *conflictStore) Update(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	inject := s.conflicts > 0
	if inject {
		s.conflicts--
	}
	s.mu.Unlock()
	if inject {
		// a competing writer bumps the version
		other, err := s.Store.Get(ctx, sess.ID)
		if err != nil {
			return err
		}
		other.Touch(other.LastActivityAt)
		if err := s.Store.Update(ctx, other); err != nil {
			return err
		}
		return session.ErrConflict
	}
	return s.Store.Update(ctx, sess)
}

func TestController_RetriesConflictOnce(t *testing.T) {
	store := &conflictStore{Store: session.NewMemoryStore(zap.NewNop())}
	h := newHarness(t, store)
	h.connect(t, "U1", "c1")
	h.connect(t, "U2", "c2")

	store.conflicts = 1
	require.NoError(t, h.move("c1", "ok"))
	assert.Len(t, h.active(t).History, 1)
	assert.Equal(t, 1, h.metrics.conflicts)

	store.conflicts = 2
	err := h.move("c2", "ok")
	assert.ErrorIs(t, err, session.ErrConflict)
	assert.Len(t, h.active(t).History, 1, "nothing applied on a surfaced conflict")
}

// slowStore blocks Get until the context expires
type slowStore struct {
	session.Store
	slow bool
}

func (s *slowStore) Get(ctx context.Context, id string) (*session.Session, error) {
	if s.slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.Store.Get(ctx, id)
}

func TestController_StoreTimeoutIsTransient(t *testing.T) {
	store := &slowStore{Store: session.NewMemoryStore(zap.NewNop())}
	h := newHarness(t, store)
	h.ctrl.cfg.StoreTimeout = 20 * time.Millisecond
	h.connect(t, "U1", "c1")
	h.connect(t, "U2", "c2")

	store.slow = true
	err := h.move("c1", "ok")
	assert.ErrorIs(t, err, session.ErrStoreUnavailable)
	assert.Zero(t, h.ctrl.locks.size(), "lock released after timeout")

	store.slow = false
	require.NoError(t, h.move("c1", "ok"))
}

// gatedEmitter holds the first delivery of one event type until released.
type gatedEmitter struct {
	*recorder
	hold    EventType
	once    sync.Once
	held    chan struct{}
	release chan struct{}
}

func (g *gatedEmitter) Emit(channel string, ev Event) {
	if ev.Type == g.hold {
		first := false
		g.once.Do(func() { first = true })
		if first {
			close(g.held)
			<-g.release
		}
	}
	g.recorder.Emit(channel, ev)
}

func TestController_EventsFollowCommitOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t, "U1", "c1")
	h.connect(t, "U2", "c2")
	h.connect(t, "U3", "c3")
	h.events.reset()

	gate := &gatedEmitter{
		recorder: h.events,
		hold:     EventTransitionApplied,
		held:     make(chan struct{}),
		release:  make(chan struct{}),
	}
	h.ctrl.emitter = gate

	first := make(chan error, 1)
	go func() { first <- h.move("c1", "ok") }()
	<-gate.held

	second := make(chan error, 1)
	go func() { second <- h.move("c2", "ok") }()

	select {
	case err := <-second:
		t.Fatalf("second move finished while the first delivery was pending: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Len(t, h.active(t).History, 1)

	close(gate.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	s := h.active(t)
	require.Len(t, s.History, 2)

	data, ok := h.events.last("c3", EventStateSnapshot)
	require.True(t, ok)
	assert.Equal(t, s.State, data.(StateData).State)
	data, ok = h.events.last("c3", EventHistorySnapshot)
	require.True(t, ok)
	assert.Len(t, data.(HistoryData).History, 2)

	assert.Equal(t, []EventType{
		EventTransitionApplied, EventStateSnapshot, EventHistorySnapshot,
		EventTransitionApplied, EventStateSnapshot, EventHistorySnapshot,
	}, h.events.to("c3"))

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	var last int64
	for _, e := range h.events.events {
		if e.Channel != "c3" {
			continue
		}
		assert.GreaterOrEqual(t, e.Event.Version, last, "%s went backwards", e.Event.Type)
		last = e.Event.Version
	}
	assert.Equal(t, s.Version, last)
}

func TestController_ReconnectSupersedesOldChannel(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.connect(t, "U1", "c1")
	h.connect(t, "U2", "c2")
	h.events.reset()

	a := h.connect(t, "U1", "c1b")
	assert.True(t, a.Recovered)
	assert.Equal(t, []EventType{EventSuperseded}, h.events.to("c1"))
	data, _ := h.events.last("c1", EventSuperseded)
	assert.Equal(t, a.Session.ID, data.(SupersededData).SessionID)

	err := h.move("c1", "ok")
	assert.Equal(t, DenyNoActiveSession, denyReason(t, err))
	err = h.ctrl.ResetActivity(ctx, "c1")
	assert.Equal(t, DenyNoActiveSession, denyReason(t, err))
	assert.Empty(t, h.active(t).History)

	require.NoError(t, h.move("c1b", "ok"))

	// the stale channel closing does not release the new one
	require.NoError(t, h.ctrl.Disconnect(ctx, "c1"))
	assert.Equal(t, "c1b", h.active(t).SeatA.Channel)
}

func TestController_StaleChannelOnOtherInstance(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.connect(t, "U1", "c1")
	h.connect(t, "U2", "c2")
	h.connect(t, "U3", "c3")

	other := NewController(zap.NewNop(), h.store, turnEngine{}, &recorder{}, h.ctrl.cfg, WithClock(h.clock.Now))
	_, err := other.Connect(ctx, "U1", "c1-elsewhere", "")
	require.NoError(t, err)
	_, err = other.Connect(ctx, "U3", "c3-elsewhere", "")
	require.NoError(t, err)

	err = h.move("c1", "ok")
	assert.Equal(t, DenyNotAParticipant, denyReason(t, err))
	err = h.ctrl.ResetActivity(ctx, "c1")
	assert.Equal(t, DenyNotAParticipant, denyReason(t, err))
	err = h.ctrl.MarkReady(ctx, "c1")
	assert.Equal(t, DenyNotAParticipant, denyReason(t, err))
	err = h.ctrl.SendChat(ctx, "c3", "still here?")
	assert.Equal(t, DenyNotAParticipant, denyReason(t, err))
	assert.Empty(t, h.active(t).History)

	require.NoError(t, other.SubmitTransition(ctx, "c1-elsewhere", json.RawMessage(`"ok"`)))
	assert.Len(t, h.active(t).History, 1)
}
