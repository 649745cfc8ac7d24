package core

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/amoylab/gameroom/internal/common/config"
	"github.com/amoylab/gameroom/internal/rules"
	"github.com/amoylab/gameroom/internal/session"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// turnEngine is a rules engine whose state is the number of moves played.
// Seat A moves on even counts. Payload "ok" is legal, "win" ends the
// activity in the mover's favour, "draw" ends it drawn; anything else is
// rejected.
type turnEngine struct{}

func (turnEngine) Initial() string { return "0" }

func (turnEngine) Turn(state string) (session.Role, error) {
	n, err := strconv.Atoi(state)
	if err != nil {
		return "", err
	}
	if n%2 == 0 {
		return session.RoleSeatA, nil
	}
	return session.RoleSeatB, nil
}

func (e turnEngine) Apply(state string, payload json.RawMessage) (*rules.Result, error) {
	n, err := strconv.Atoi(state)
	if err != nil {
		return nil, err
	}
	var mv string
	if err := json.Unmarshal(payload, &mv); err != nil {
		return nil, rules.Reject("malformed move")
	}
	res := &rules.Result{State: strconv.Itoa(n + 1), Move: mv, Notation: mv + "#" + strconv.Itoa(n+1)}
	mover, _ := e.Turn(state)
	switch mv {
	case "ok":
	case "win":
		res.Terminal = session.OutcomeSeatAWins
		if mover == session.RoleSeatB {
			res.Terminal = session.OutcomeSeatBWins
		}
	case "draw":
		res.Terminal = session.OutcomeDraw
	default:
		return nil, rules.Reject("illegal move %s", mv)
	}
	return res, nil
}

type sent struct {
	Channel string
	Event   Event
}

// recorder is an Emitter that keeps every event
type recorder struct {
	mu     sync.Mutex
	events []sent
}

func (r *recorder) Emit(channel string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sent{Channel: channel, Event: ev})
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// to returns event types delivered to channel, in order
func (r *recorder) to(channel string) []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, s := range r.events {
		if s.Channel == channel {
			out = append(out, s.Event.Type)
		}
	}
	return out
}

// last returns the data of the newest event of type t sent to channel
func (r *recorder) last(channel string, t EventType) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Channel == channel && r.events[i].Event.Type == t {
			return r.events[i].Event.Data, true
		}
	}
	return nil, false
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingMetrics struct {
	mu        sync.Mutex
	roles     map[string]int
	moves     int
	denied    map[string]int
	conflicts int
	closed    map[string]int
	reclaimed int
	purged    int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		roles:  map[string]int{},
		denied: map[string]int{},
		closed: map[string]int{},
	}
}

func (m *countingMetrics) RoleAssigned(role string, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[role]++
}

func (m *countingMetrics) TransitionApplied(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves++
}

func (m *countingMetrics) Denied(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.denied[reason]++
}

func (m *countingMetrics) StoreConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *countingMetrics) SessionClosed(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[outcome]++
}

func (m *countingMetrics) Reclaimed(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reclaimed += n
}

func (m *countingMetrics) Purged(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged += n
}

type harness struct {
	ctrl    *Controller
	store   session.Store
	events  *recorder
	clock   *clock
	metrics *countingMetrics
}

func newHarness(t testing.TB, store session.Store) *harness {
	if store == nil {
		store = session.NewMemoryStore(zap.NewNop())
	}
	h := &harness{
		store:   store,
		events:  &recorder{},
		clock:   newClock(),
		metrics: newCountingMetrics(),
	}
	h.ctrl = NewController(zap.NewNop(), store, turnEngine{}, h.events, config.LifecycleConfig{
		IdleTimeout:  30 * time.Minute,
		Retention:    24 * time.Hour,
		StoreTimeout: time.Second,
	}, WithClock(h.clock.Now), WithMetrics(h.metrics))
	return h
}

func (h *harness) connect(t testing.TB, identity, channel string) *Assignment {
	t.Helper()
	a, err := h.ctrl.Connect(context.Background(), identity, channel, "name-"+identity)
	require.NoError(t, err)
	return a
}

func (h *harness) move(channel, mv string) error {
	return h.ctrl.SubmitTransition(context.Background(), channel, json.RawMessage(strconv.Quote(mv)))
}

func (h *harness) active(t testing.TB) *session.Session {
	t.Helper()
	s, err := h.store.FindActive(context.Background())
	require.NoError(t, err)
	return s
}
