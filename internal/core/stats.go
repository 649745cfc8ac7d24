package core

import (
	"context"
	"errors"
	"time"

	"github.com/amoylab/gameroom/internal/session"
)

// Stats summarises one session.
type Stats struct {
	SessionID       string          `json:"session_id"`
	Status          session.Status  `json:"status"`
	Outcome         session.Outcome `json:"outcome,omitempty"`
	DurationSeconds int64           `json:"duration_seconds"`
	TotalMoves      int             `json:"total_moves"`
	SeatA           string          `json:"seat_a,omitempty"`
	SeatB           string          `json:"seat_b,omitempty"`
	ObserverCount   int             `json:"observer_count"`
	CreatedAt       time.Time       `json:"created_at"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
}

// StatsOf computes statistics for s at now. Duration runs until ClosedAt for
// closed sessions.
func StatsOf(s *session.Session, now time.Time) *Stats {
	end := now
	if s.ClosedAt != nil {
		end = *s.ClosedAt
	}
	return &Stats{
		SessionID:       s.ID,
		Status:          s.Status,
		Outcome:         s.Outcome,
		DurationSeconds: int64(end.Sub(s.CreatedAt) / time.Second),
		TotalMoves:      len(s.History),
		SeatA:           s.SeatA.DisplayName,
		SeatB:           s.SeatB.DisplayName,
		ObserverCount:   len(s.Observers),
		CreatedAt:       s.CreatedAt,
		ClosedAt:        s.ClosedAt,
	}
}

// Stats returns statistics for the session with id.
func (c *Controller) Stats(ctx context.Context, id string) (*Stats, error) {
	s, err := c.get(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, err
	}
	return StatsOf(s, c.now()), nil
}

// RequestStats sends statistics of the channel's session to channel.
func (c *Controller) RequestStats(ctx context.Context, channel string) error {
	s, _, err := c.sessionOf(ctx, channel)
	if err != nil {
		return err
	}
	c.send(s, channel, Event{Type: EventStatsSnapshot, Data: StatsOf(s, c.now())})
	return nil
}

// Action is what a visitor can do with the live session.
type Action string

const (
	ActionNewGame      Action = "new_game"
	ActionJoinGame     Action = "join_game"
	ActionContinueGame Action = "continue_game"
	ActionSpectateGame Action = "spectate_game"
)

// Summary is the public view of a session.
type Summary struct {
	ID             string          `json:"id"`
	Status         session.Status  `json:"status"`
	Outcome        session.Outcome `json:"outcome,omitempty"`
	SeatA          *Participant    `json:"seat_a"`
	SeatB          *Participant    `json:"seat_b"`
	ObserverCount  int             `json:"observer_count"`
	MoveCount      int             `json:"move_count"`
	Turn           session.Role    `json:"turn,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
}

// Overview tells an identity what it can do right now.
type Overview struct {
	Session *Summary     `json:"session"`
	Action  Action       `json:"action"`
	Role    session.Role `json:"role,omitempty"`
}

// SummaryOf builds the public view of s
func (c *Controller) SummaryOf(s *session.Session) *Summary {
	return &Summary{
		ID:             s.ID,
		Status:         s.Status,
		Outcome:        s.Outcome,
		SeatA:          participantOf(s.SeatA),
		SeatB:          participantOf(s.SeatB),
		ObserverCount:  len(s.Observers),
		MoveCount:      len(s.History),
		Turn:           c.stateOf(s).Turn,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
	}
}

// Overview reports the live session and the action available to identity.
func (c *Controller) Overview(ctx context.Context, identity string) (*Overview, error) {
	s, err := c.findActive(context.WithoutCancel(ctx))
	if errors.Is(err, session.ErrNotFound) {
		return &Overview{Action: ActionNewGame}, nil
	}
	if err != nil {
		return nil, err
	}

	out := &Overview{Session: c.SummaryOf(s)}
	role, member := s.RoleOf(identity)
	switch {
	case member && role.IsSeat():
		out.Action = ActionContinueGame
	case !s.SeatA.Occupied() || !s.SeatB.Occupied():
		out.Action = ActionJoinGame
	default:
		out.Action = ActionSpectateGame
	}
	if member {
		out.Role = role
	}
	return out, nil
}

// ActiveSessions lists open and active sessions.
func (c *Controller) ActiveSessions(ctx context.Context) ([]*Summary, error) {
	live, err := c.list(context.WithoutCancel(ctx), session.StatusOpen, session.StatusActive)
	if err != nil {
		return nil, err
	}
	out := make([]*Summary, 0, len(live))
	for _, s := range live {
		out = append(out, c.SummaryOf(s))
	}
	return out, nil
}
