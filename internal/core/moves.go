package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/amoylab/gameroom/internal/rules"
	"github.com/amoylab/gameroom/internal/session"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MaxChatLength bounds a chat message in runes
const MaxChatLength = 500

// SubmitTransition authorizes the identity bound to channel and applies
// payload through the rules engine. A terminal result closes the session.
func (c *Controller) SubmitTransition(ctx context.Context, channel string, payload json.RawMessage) error {
	ctx, span := c.tracer.Start(ctx, "core.SubmitTransition", trace.WithAttributes(
		attribute.String("channel", channel),
	))
	defer span.End()

	b, ok := c.lookup(channel)
	if !ok {
		return c.denied(span, deny(DenyNoActiveSession))
	}

	var (
		seat   session.Role
		result *rules.Result
	)
	s, err := c.mutate(ctx, b.SessionID, func(s *session.Session) (bool, error) {
		role, err := c.authorizer.Authorize(s, b.Identity)
		if err != nil {
			return false, err
		}
		if !boundTo(s, channel, b.Identity) {
			return false, deny(DenyNotAParticipant)
		}
		res, err := c.rules.Apply(s.State, payload)
		if err != nil {
			return false, err
		}
		now := c.now()
		if err := s.ApplyMove(role, res.Move, res.Notation, res.State, now); err != nil {
			return false, err
		}
		if res.Terminal != session.OutcomeNone {
			if err := s.Close(res.Terminal, now); err != nil {
				return false, err
			}
		}
		seat, result = role, res
		return true, nil
	}, func(s *session.Session) {
		c.broadcast(s, Event{Type: EventTransitionApplied, Data: TransitionData{
			Seat:     seat,
			Identity: b.Identity,
			Payload:  result.Move,
			Notation: result.Notation,
		}})
		c.broadcast(s, Event{Type: EventStateSnapshot, Data: c.stateOf(s)})
		c.broadcast(s, Event{Type: EventHistorySnapshot, Data: historyOf(s)})
		if result.Terminal != session.OutcomeNone {
			c.broadcast(s, Event{Type: EventActivityClosed, Data: ClosedData{
				SessionID: s.ID,
				Outcome:   s.Outcome,
				ClosedAt:  s.ClosedAt,
			}})
		}
	})
	if errors.Is(err, session.ErrNotFound) {
		return c.denied(span, deny(DenyNoActiveSession))
	}
	if err != nil {
		var denied *DeniedError
		if errors.As(err, &denied) {
			return c.denied(span, err)
		}
		return c.fail(span, err)
	}

	c.metrics.TransitionApplied(string(seat))
	c.logger.Debug("transition applied",
		zap.String("session", s.ID),
		zap.String("seat", string(seat)),
		zap.String("move", result.Move),
		zap.String("notation", result.Notation))

	if result.Terminal != session.OutcomeNone {
		c.metrics.SessionClosed(string(result.Terminal))
		c.logger.Info("session closed",
			zap.String("session", s.ID),
			zap.String("outcome", string(result.Terminal)))
	}
	return nil
}

// RequestState sends the current state and history to channel.
func (c *Controller) RequestState(ctx context.Context, channel string) error {
	s, _, err := c.sessionOf(ctx, channel)
	if err != nil {
		return err
	}
	c.send(s, channel, Event{Type: EventStateSnapshot, Data: c.stateOf(s)})
	c.send(s, channel, Event{Type: EventHistorySnapshot, Data: historyOf(s)})
	return nil
}

// ResetActivity starts a new activity in the channel's session. Only seated
// identities may reset; membership is kept.
func (c *Controller) ResetActivity(ctx context.Context, channel string) error {
	ctx, span := c.tracer.Start(ctx, "core.ResetActivity", trace.WithAttributes(
		attribute.String("channel", channel),
	))
	defer span.End()

	b, ok := c.lookup(channel)
	if !ok {
		return c.denied(span, deny(DenyNoActiveSession))
	}

	s, err := c.mutate(ctx, b.SessionID, func(s *session.Session) (bool, error) {
		role, ok := s.RoleOf(b.Identity)
		if !ok || !role.IsSeat() || !boundTo(s, channel, b.Identity) {
			return false, deny(DenyNotAParticipant)
		}
		s.Reset(c.rules.Initial(), c.now())
		return true, nil
	}, func(s *session.Session) {
		c.broadcast(s, Event{Type: EventActivityReset, Data: ResetData{SessionID: s.ID}})
		c.broadcast(s, Event{Type: EventStateSnapshot, Data: c.stateOf(s)})
		c.broadcast(s, Event{Type: EventHistorySnapshot, Data: historyOf(s)})
		for _, ch := range s.Channels() {
			role, identity, _ := s.BindingOf(ch)
			c.send(s, ch, Event{Type: EventRoleAssigned, Data: RoleAssignedData{
				SessionID:   s.ID,
				Role:        role,
				Identity:    identity,
				DisplayName: s.DisplayNameOf(identity),
			}})
		}
	})
	if err != nil {
		var denied *DeniedError
		if errors.As(err, &denied) {
			return c.denied(span, err)
		}
		return c.fail(span, err)
	}

	c.logger.Info("activity reset", zap.String("session", s.ID), zap.String("identity", b.Identity))
	return nil
}

// SendChat broadcasts text from the participant on channel.
func (c *Controller) SendChat(ctx context.Context, channel, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty chat message", session.ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > MaxChatLength {
		return fmt.Errorf("%w: chat message longer than %d characters", session.ErrInvalidInput, MaxChatLength)
	}

	s, b, err := c.sessionOf(ctx, channel)
	if err != nil {
		return err
	}
	role, ok := s.RoleOf(b.Identity)
	if !ok || !boundTo(s, channel, b.Identity) {
		return deny(DenyNotAParticipant)
	}

	c.broadcast(s, Event{Type: EventChatMessage, Data: ChatData{
		Identity:    b.Identity,
		DisplayName: s.DisplayNameOf(b.Identity),
		Role:        role,
		Text:        text,
		Timestamp:   c.now(),
	}})
	return nil
}

// MarkReady tells the session that the seat on channel is ready to play.
func (c *Controller) MarkReady(ctx context.Context, channel string) error {
	s, b, err := c.sessionOf(ctx, channel)
	if err != nil {
		return err
	}
	role, ok := s.RoleOf(b.Identity)
	if !ok || !role.IsSeat() || !boundTo(s, channel, b.Identity) {
		c.metrics.Denied(string(DenyNotAParticipant))
		return deny(DenyNotAParticipant)
	}

	c.broadcast(s, Event{Type: EventPlayerReady, Data: ReadyData{
		Identity:    b.Identity,
		DisplayName: s.DisplayNameOf(b.Identity),
		Role:        role,
	}})
	return nil
}

// sessionOf loads the session channel is bound to
func (c *Controller) sessionOf(ctx context.Context, channel string) (*session.Session, binding, error) {
	b, ok := c.lookup(channel)
	if !ok {
		return nil, b, deny(DenyNoActiveSession)
	}
	s, err := c.get(context.WithoutCancel(ctx), b.SessionID)
	if err != nil {
		return nil, b, err
	}
	return s, b, nil
}

func (c *Controller) denied(span trace.Span, err error) error {
	var denied *DeniedError
	if errors.As(err, &denied) {
		c.metrics.Denied(string(denied.Reason))
		span.SetAttributes(attribute.String("denied", string(denied.Reason)))
	}
	return err
}
