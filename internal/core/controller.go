// Package core coordinates the lifecycle of the shared two-seat session:
// role assignment, reconnection, turn authorization and reclamation.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amoylab/gameroom/internal/common/config"
	"github.com/amoylab/gameroom/internal/rules"
	"github.com/amoylab/gameroom/internal/session"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/amoylab/gameroom/internal/core"

// Recorder receives controller metrics
type Recorder interface {
	RoleAssigned(role string, recovered bool)
	TransitionApplied(seat string)
	Denied(reason string)
	StoreConflict()
	SessionClosed(outcome string)
	Reclaimed(n int)
	Purged(n int)
}

type noopRecorder struct{}

func (noopRecorder) RoleAssigned(string, bool) {}
func (noopRecorder) TransitionApplied(string)  {}
func (noopRecorder) Denied(string)             {}
func (noopRecorder) StoreConflict()            {}
func (noopRecorder) SessionClosed(string)      {}
func (noopRecorder) Reclaimed(int)             {}
func (noopRecorder) Purged(int)                {}

// binding is what the controller knows about an open channel
type binding struct {
	Identity    string
	DisplayName string
	SessionID   string
}

// Assignment is the result of Connect or Recover.
type Assignment struct {
	Session   *session.Session
	Role      session.Role
	Recovered bool
}

// Option configures a Controller
type Option func(*Controller)

// WithMetrics sets the metrics recorder
func WithMetrics(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.metrics = r
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller drives sessions through their lifecycle. It is safe for
// concurrent use; mutations of one session are serialised by a keyed lock
// and the store's version check.
type Controller struct {
	logger     *zap.Logger
	store      session.Store
	rules      rules.Engine
	emitter    Emitter
	assignor   *Assignor
	authorizer *Authorizer
	metrics    Recorder
	tracer     trace.Tracer
	cfg        config.LifecycleConfig
	now        func() time.Time

	locks    *keyedMutex
	createMu sync.Mutex

	bindMu   sync.RWMutex
	bindings map[string]binding
}

// NewController creates a lifecycle controller
func NewController(logger *zap.Logger, store session.Store, engine rules.Engine, emitter Emitter, cfg config.LifecycleConfig, opts ...Option) *Controller {
	cfg.ApplyDefaults()
	c := &Controller{
		logger:     logger.Named("core.controller"),
		store:      store,
		rules:      engine,
		emitter:    emitter,
		assignor:   NewAssignor(logger),
		authorizer: NewAuthorizer(engine),
		metrics:    noopRecorder{},
		tracer:     otel.Tracer(tracerName),
		cfg:        cfg,
		now:        time.Now,
		locks:      newKeyedMutex(),
		bindings:   make(map[string]binding),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FindOrCreateActive returns the single open or active session, creating an
// empty one when none exists.
func (c *Controller) FindOrCreateActive(ctx context.Context) (*session.Session, error) {
	c.createMu.Lock()
	defer c.createMu.Unlock()
	ctx = context.WithoutCancel(ctx)

	s, err := c.findActive(ctx)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, err
	}

	s = session.New(uuid.NewString(), c.rules.Initial(), c.now())
	err = c.withTimeout(ctx, func(ctx context.Context) error {
		return c.store.CreateActive(ctx, s)
	})
	if errors.Is(err, session.ErrActiveExists) {
		// another instance won the race
		return c.findActive(ctx)
	}
	if err != nil {
		return nil, err
	}

	c.logger.Info("created session", zap.String("session", s.ID))
	return s, nil
}

// Connect binds an authenticated identity on channel, recovering its previous
// role when it is already a member of the live session.
func (c *Controller) Connect(ctx context.Context, identity, channel, displayName string) (*Assignment, error) {
	ctx, span := c.tracer.Start(ctx, "core.Connect", trace.WithAttributes(
		attribute.String("identity", identity),
		attribute.String("channel", channel),
	))
	defer span.End()

	if identity == "" || channel == "" {
		return nil, c.fail(span, fmt.Errorf("%w: identity and channel are required", session.ErrInvalidInput))
	}

	// runs under the session lock so the connect sequence cannot interleave
	// with another commit's events
	assigned := func(a *Assignment) {
		c.supersede(a.Session, identity, channel)
		c.bind(channel, binding{
			Identity:    identity,
			DisplayName: a.Session.DisplayNameOf(identity),
			SessionID:   a.Session.ID,
		})
		c.announce(a, identity, channel)
	}

	a, err := c.recover(ctx, identity, channel, displayName, assigned)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return nil, c.fail(span, err)
	}
	if a == nil {
		a, err = c.join(ctx, identity, channel, displayName, assigned)
		if err != nil {
			return nil, c.fail(span, err)
		}
	}

	c.metrics.RoleAssigned(string(a.Role), a.Recovered)
	span.SetAttributes(
		attribute.String("session", a.Session.ID),
		attribute.String("role", string(a.Role)),
		attribute.Bool("recovered", a.Recovered),
	)
	c.logger.Info("participant connected",
		zap.String("session", a.Session.ID),
		zap.String("identity", identity),
		zap.String("channel", channel),
		zap.String("role", string(a.Role)),
		zap.Bool("recovered", a.Recovered))
	return a, nil
}

// join resolves a role in the live session. A session that closed between
// lookup and lock is replaced once. assigned runs under the session lock.
func (c *Controller) join(ctx context.Context, identity, channel, displayName string, assigned func(*Assignment)) (*Assignment, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		live, err := c.FindOrCreateActive(ctx)
		if err != nil {
			return nil, err
		}

		var role session.Role
		s, err := c.mutate(ctx, live.ID, func(s *session.Session) (bool, error) {
			r, err := c.assignor.Resolve(s, identity, channel, displayName, c.now())
			if err != nil {
				return false, err
			}
			role = r
			return true, nil
		}, func(s *session.Session) {
			if assigned != nil {
				assigned(&Assignment{Session: s, Role: role})
			}
		})
		if errors.Is(err, session.ErrClosed) || errors.Is(err, session.ErrNotFound) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		return &Assignment{Session: s, Role: role}, nil
	}
	return nil, lastErr
}

// announce emits the connect sequence: role, state and history to the new
// channel, then the roster and a join or reconnect notice to everyone else.
func (c *Controller) announce(a *Assignment, identity, channel string) {
	s := a.Session
	c.send(s, channel, Event{Type: EventRoleAssigned, Data: RoleAssignedData{
		SessionID:   s.ID,
		Role:        a.Role,
		Identity:    identity,
		DisplayName: s.DisplayNameOf(identity),
		Recovered:   a.Recovered,
	}})
	c.send(s, channel, Event{Type: EventStateSnapshot, Data: c.stateOf(s)})
	c.send(s, channel, Event{Type: EventHistorySnapshot, Data: historyOf(s)})

	c.broadcast(s, Event{Type: EventRosterChanged, Data: rosterOf(s)})

	kind := EventParticipantJoined
	if a.Recovered {
		kind = EventParticipantReconnected
	}
	c.broadcast(s, Event{Type: kind, Data: ParticipantData{
		Identity:    identity,
		DisplayName: s.DisplayNameOf(identity),
		Role:        a.Role,
	}}, channel)
}

// Disconnect releases channel. Seats keep their identity for recovery;
// observer entries are dropped. The session status is unchanged.
func (c *Controller) Disconnect(ctx context.Context, channel string) error {
	ctx, span := c.tracer.Start(ctx, "core.Disconnect", trace.WithAttributes(
		attribute.String("channel", channel),
	))
	defer span.End()

	b, ok := c.unbind(channel)
	if !ok {
		return nil
	}

	var (
		role     session.Role
		identity string
		released bool
	)
	s, err := c.mutate(ctx, b.SessionID, func(s *session.Session) (bool, error) {
		role, identity, released = s.Unbind(channel, c.now())
		return released, nil
	}, func(s *session.Session) {
		c.broadcast(s, Event{Type: EventParticipantLeft, Data: ParticipantData{
			Identity:    identity,
			DisplayName: b.DisplayName,
			Role:        role,
		}})
		c.broadcast(s, Event{Type: EventRosterChanged, Data: rosterOf(s)})
	})
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		c.logger.Error("failed to release channel",
			zap.String("session", b.SessionID),
			zap.String("channel", channel),
			zap.Error(err))
		return c.fail(span, err)
	}
	if !released {
		// the identity reconnected on another channel first
		return nil
	}

	c.logger.Info("participant disconnected",
		zap.String("session", s.ID),
		zap.String("identity", identity),
		zap.String("role", string(role)))
	return nil
}

// ReportError sends err to the originating channel only.
func (c *Controller) ReportError(channel string, err error) {
	if err == nil {
		return
	}
	var denied *DeniedError
	if errors.As(err, &denied) {
		c.emitter.Emit(channel, Event{Type: EventAuthorizationDenied, Data: DeniedData{
			Reason:  denied.Reason,
			Message: denied.Error(),
		}})
		return
	}
	c.emitter.Emit(channel, Event{Type: EventOperationFailed, Data: failedOf(err)})
}

// mutate runs fn against a fresh copy of the session under its lock and
// persists the result when fn reports a change. A version conflict is retried
// once with a fresh read. The caller's cancellation does not abort the write.
//
// committed, when non-nil, runs after a successful write and before the lock
// is released; events emitted from it reach every channel in commit order.
func (c *Controller) mutate(ctx context.Context, id string, fn func(s *session.Session) (bool, error), committed func(s *session.Session)) (*session.Session, error) {
	unlock := c.locks.Lock(id)
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		s, err := c.get(ctx, id)
		if err != nil {
			return nil, err
		}
		changed, err := fn(s)
		if err != nil {
			return nil, err
		}
		if !changed {
			return s, nil
		}
		err = c.withTimeout(ctx, func(ctx context.Context) error {
			return c.store.Update(ctx, s)
		})
		if errors.Is(err, session.ErrConflict) {
			c.metrics.StoreConflict()
			c.logger.Debug("version conflict, retrying", zap.String("session", id), zap.Int("attempt", attempt))
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		if committed != nil {
			committed(s)
		}
		return s, nil
	}
	return nil, lastErr
}

func (c *Controller) get(ctx context.Context, id string) (*session.Session, error) {
	var s *session.Session
	err := c.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		s, err = c.store.Get(ctx, id)
		return err
	})
	return s, err
}

func (c *Controller) findActive(ctx context.Context) (*session.Session, error) {
	var s *session.Session
	err := c.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		s, err = c.store.FindActive(ctx)
		return err
	})
	return s, err
}

func (c *Controller) list(ctx context.Context, statuses ...session.Status) ([]*session.Session, error) {
	var out []*session.Session
	err := c.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.store.List(ctx, statuses...)
		return err
	})
	return out, err
}

// withTimeout bounds a store call. Expiry surfaces as ErrStoreUnavailable.
func (c *Controller) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()

	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, session.ErrStoreUnavailable) {
		return fmt.Errorf("%w: %w", session.ErrStoreUnavailable, err)
	}
	return err
}

func (c *Controller) bind(channel string, b binding) {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()
	c.bindings[channel] = b
}

func (c *Controller) unbind(channel string) (binding, bool) {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()
	b, ok := c.bindings[channel]
	delete(c.bindings, channel)
	return b, ok
}

func (c *Controller) lookup(channel string) (binding, bool) {
	c.bindMu.RLock()
	defer c.bindMu.RUnlock()
	b, ok := c.bindings[channel]
	return b, ok
}

// supersede releases earlier local channels of identity in s. The identity
// now lives on channel; the old ones are told so and can no longer act.
func (c *Controller) supersede(s *session.Session, identity, channel string) {
	c.bindMu.Lock()
	var stale []string
	for ch, b := range c.bindings {
		if ch != channel && b.Identity == identity && b.SessionID == s.ID {
			stale = append(stale, ch)
			delete(c.bindings, ch)
		}
	}
	c.bindMu.Unlock()

	for _, ch := range stale {
		c.logger.Info("channel superseded",
			zap.String("session", s.ID),
			zap.String("identity", identity),
			zap.String("channel", ch),
			zap.String("by", channel))
		c.send(s, ch, Event{Type: EventSuperseded, Data: SupersededData{SessionID: s.ID}})
	}
}

// boundTo reports whether the stored record still binds channel to identity.
// Another instance may have moved the identity to a newer channel.
func boundTo(s *session.Session, channel, identity string) bool {
	_, id, ok := s.BindingOf(channel)
	return ok && id == identity
}

func (c *Controller) dropSessionBindings(id string) {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()
	for ch, b := range c.bindings {
		if b.SessionID == id {
			delete(c.bindings, ch)
		}
	}
}

// send emits ev to one channel, stamped with the session version.
func (c *Controller) send(s *session.Session, channel string, ev Event) {
	ev.Version = s.Version
	c.emitter.Emit(channel, ev)
}

// broadcast emits ev to every channel bound to s except the listed ones.
func (c *Controller) broadcast(s *session.Session, ev Event, except ...string) {
	ev.Version = s.Version
	for _, ch := range s.Channels() {
		skip := false
		for _, e := range except {
			if ch == e {
				skip = true
				break
			}
		}
		if !skip {
			c.emitter.Emit(ch, ev)
		}
	}
}

func (c *Controller) stateOf(s *session.Session) StateData {
	data := StateData{
		SessionID: s.ID,
		State:     s.State,
		Status:    s.Status,
		Outcome:   s.Outcome,
	}
	if s.Status == session.StatusActive {
		if turn, err := c.rules.Turn(s.State); err == nil {
			data.Turn = turn
		}
	}
	return data
}

func (c *Controller) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
