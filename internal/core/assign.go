package core

import (
	"time"

	"github.com/amoylab/gameroom/internal/session"

	"go.uber.org/zap"
)

// Assignor decides which role an identity takes in a session.
type Assignor struct {
	logger *zap.Logger
}

// NewAssignor creates a role assignor
func NewAssignor(logger *zap.Logger) *Assignor {
	return &Assignor{logger: logger.Named("core.assign")}
}

// Resolve binds identity on channel to a role in s, first match wins:
//
//  1. identity holds seat A: rebind seat A
//  2. identity holds seat B: rebind seat B
//  3. seat A is empty: fill seat A
//  4. seat B is empty: fill seat B
//  5. otherwise: add or refresh an observer entry
//
// Rebinding before filling makes Resolve idempotent per identity. The caller
// must hold the session lock.
func (a *Assignor) Resolve(s *session.Session, identity, channel, displayName string, now time.Time) (session.Role, error) {
	if identity == "" || channel == "" {
		return "", session.ErrInvalidInput
	}
	if !s.IsLive() {
		return "", session.ErrClosed
	}

	for _, role := range []session.Role{session.RoleSeatA, session.RoleSeatB} {
		seat := s.Seat(role)
		if seat.Identity != identity {
			continue
		}
		a.warnDuplicate(s, role, identity, channel)
		if err := s.RebindSeat(role, channel, displayName, now); err != nil {
			return "", err
		}
		return role, nil
	}

	for _, role := range []session.Role{session.RoleSeatA, session.RoleSeatB} {
		if s.Seat(role).Occupied() {
			continue
		}
		if err := s.FillSeat(role, identity, channel, displayName, now); err != nil {
			return "", err
		}
		return role, nil
	}

	if err := s.UpsertObserver(identity, channel, displayName, now); err != nil {
		return "", err
	}
	return session.RoleObserver, nil
}

// warnDuplicate logs a second live connection for a seat, or one identity
// holding both seats. Neither is an error: the newest channel wins.
func (a *Assignor) warnDuplicate(s *session.Session, role session.Role, identity, channel string) {
	seat := s.Seat(role)
	switch {
	case s.SeatA.Identity == s.SeatB.Identity:
		a.logger.Warn("duplicate connection: identity holds both seats",
			zap.String("session", s.ID),
			zap.String("identity", identity),
			zap.String("role", string(role)))
	case seat.Channel != "" && seat.Channel != channel:
		a.logger.Warn("duplicate connection: seat rebound to a new channel",
			zap.String("session", s.ID),
			zap.String("identity", identity),
			zap.String("role", string(role)),
			zap.String("previous_channel", seat.Channel),
			zap.String("channel", channel))
	}
}
