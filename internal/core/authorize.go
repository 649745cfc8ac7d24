package core

import (
	"fmt"

	"github.com/amoylab/gameroom/internal/rules"
	"github.com/amoylab/gameroom/internal/session"
)

// DenyReason explains why an action was refused.
type DenyReason string

const (
	DenyNoActiveSession DenyReason = "no_active_session"
	DenyNotAParticipant DenyReason = "not_a_participant"
	DenyNotYourTurn     DenyReason = "not_your_turn"
)

// DeniedError is returned when authorization fails. It wraps
// session.ErrUnauthorized.
type DeniedError struct {
	Reason DenyReason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s", session.ErrUnauthorized, e.Reason)
}

func (e *DeniedError) Unwrap() error {
	return session.ErrUnauthorized
}

func deny(reason DenyReason) error {
	return &DeniedError{Reason: reason}
}

// Authorizer checks whether an identity may submit a transition.
type Authorizer struct {
	rules rules.Engine
}

// NewAuthorizer creates a turn authorizer
func NewAuthorizer(engine rules.Engine) *Authorizer {
	return &Authorizer{rules: engine}
}

// Authorize returns the seat identity plays when it may move now.
func (a *Authorizer) Authorize(s *session.Session, identity string) (session.Role, error) {
	if s == nil || s.Status != session.StatusActive {
		return "", deny(DenyNoActiveSession)
	}
	role, ok := s.RoleOf(identity)
	if !ok || !role.IsSeat() {
		return "", deny(DenyNotAParticipant)
	}
	turn, err := a.rules.Turn(s.State)
	if err != nil {
		return "", fmt.Errorf("failed to read turn: %w", err)
	}
	if turn != role {
		return "", deny(DenyNotYourTurn)
	}
	return role, nil
}
