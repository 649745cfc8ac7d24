package core

import (
	"context"

	"github.com/amoylab/gameroom/internal/session"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Recover rebinds identity to the role it already holds in an open or active
// session. It never fills a seat; ErrNotFound means identity is not a member
// of any live session.
func (c *Controller) Recover(ctx context.Context, identity, channel, displayName string) (*Assignment, error) {
	return c.recover(ctx, identity, channel, displayName, nil)
}

// recover is Recover with a hook that runs under the session lock once the
// rebind is stored.
func (c *Controller) recover(ctx context.Context, identity, channel, displayName string, assigned func(*Assignment)) (*Assignment, error) {
	ctx, span := c.tracer.Start(ctx, "core.Recover", trace.WithAttributes(
		attribute.String("identity", identity),
	))
	defer span.End()

	s, _, err := c.Lookup(ctx, identity)
	if err != nil {
		return nil, err
	}

	var role session.Role
	s, err = c.mutate(ctx, s.ID, func(s *session.Session) (bool, error) {
		if !s.IsLive() {
			return false, session.ErrNotFound
		}
		r, err := s.Rebind(identity, channel, displayName, c.now())
		if err != nil {
			return false, err
		}
		role = r
		return true, nil
	}, func(s *session.Session) {
		if assigned != nil {
			assigned(&Assignment{Session: s, Role: role, Recovered: true})
		}
	})
	if err != nil {
		return nil, err
	}
	return &Assignment{Session: s, Role: role, Recovered: true}, nil
}

// Lookup finds the live session identity belongs to, checking seat A, seat B
// and observers in that order. It does not modify anything.
func (c *Controller) Lookup(ctx context.Context, identity string) (*session.Session, session.Role, error) {
	if identity == "" {
		return nil, "", session.ErrNotFound
	}
	live, err := c.list(ctx, session.StatusOpen, session.StatusActive)
	if err != nil {
		return nil, "", err
	}
	for _, s := range live {
		if role, ok := s.RoleOf(identity); ok {
			return s, role, nil
		}
	}
	return nil, "", session.ErrNotFound
}
