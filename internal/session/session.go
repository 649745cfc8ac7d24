package session

import (
	"slices"
	"time"
)

// Role is the position an identity holds within a session.
type Role string

const (
	RoleSeatA    Role = "seat_a"
	RoleSeatB    Role = "seat_b"
	RoleObserver Role = "observer"
)

// IsSeat reports whether the role may submit transitions.
func (r Role) IsSeat() bool {
	return r == RoleSeatA || r == RoleSeatB
}

// Status is the lifecycle state of a session.
type Status string

const (
	StatusOpen   Status = "open"   // fewer than two seats filled
	StatusActive Status = "active" // both seats filled
	StatusClosed Status = "closed" // terminal, outcome set
)

// Outcome is the terminal result recorded when a session closes.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeSeatAWins Outcome = "seat_a_wins"
	OutcomeSeatBWins Outcome = "seat_b_wins"
	OutcomeDraw      Outcome = "draw"
	OutcomeAbandoned Outcome = "abandoned"
)

// Seat is one of the two privileged participant slots.
type Seat struct {
	Identity    string `json:"identity,omitempty"`
	Channel     string `json:"channel,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Occupied reports whether an identity has been bound to the seat.
func (s Seat) Occupied() bool {
	return s.Identity != ""
}

// Observer is a participant bound to the session without seat privileges.
type Observer struct {
	Identity    string `json:"identity"`
	Channel     string `json:"channel"`
	DisplayName string `json:"display_name"`
}

// Move is one applied transition in the session history.
type Move struct {
	Seat      Role      `json:"seat"`
	Payload   string    `json:"payload"`
	Notation  string    `json:"notation"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the durable record of one two-seat session.
//
// Mutators keep the record's invariants: a seat identity never changes once
// set, observers never hold a seated identity, State and History change
// together, and Outcome is written exactly once on entering StatusClosed.
type Session struct {
	ID             string     `json:"id"`
	SeatA          Seat       `json:"seat_a"`
	SeatB          Seat       `json:"seat_b"`
	Observers      []Observer `json:"observers"`
	State          string     `json:"state"`
	History        []Move     `json:"history"`
	Status         Status     `json:"status"`
	Outcome        Outcome    `json:"outcome,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	Version        int64      `json:"version"`
}

// New returns an open session with empty seats and the given initial state.
func New(id, initialState string, now time.Time) *Session {
	return &Session{
		ID:             id,
		Observers:      []Observer{},
		State:          initialState,
		History:        []Move{},
		Status:         StatusOpen,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Observers = slices.Clone(s.Observers)
	if c.Observers == nil {
		c.Observers = []Observer{}
	}
	c.History = slices.Clone(s.History)
	if c.History == nil {
		c.History = []Move{}
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// IsLive reports whether the session is open or active.
func (s *Session) IsLive() bool {
	return s.Status == StatusOpen || s.Status == StatusActive
}

// Seat returns a pointer to the seat for role, or nil for non-seat roles.
func (s *Session) Seat(role Role) *Seat {
	switch role {
	case RoleSeatA:
		return &s.SeatA
	case RoleSeatB:
		return &s.SeatB
	default:
		return nil
	}
}

// RoleOf reports the role currently held by identity, checking seat A, seat B
// and observers in that order.
func (s *Session) RoleOf(identity string) (Role, bool) {
	switch {
	case identity == "":
		return "", false
	case s.SeatA.Identity == identity:
		return RoleSeatA, true
	case s.SeatB.Identity == identity:
		return RoleSeatB, true
	case s.observerIndex(identity) >= 0:
		return RoleObserver, true
	}
	return "", false
}

// Touch records activity for idle reclamation.
func (s *Session) Touch(now time.Time) {
	s.LastActivityAt = now
}

// FillSeat binds identity to an empty seat and activates the session once both
// seats are held.
func (s *Session) FillSeat(role Role, identity, channel, displayName string, now time.Time) error {
	seat := s.Seat(role)
	if seat == nil {
		return ErrInvalidRole
	}
	if s.Status == StatusClosed {
		return ErrClosed
	}
	if seat.Occupied() && seat.Identity != identity {
		return ErrSeatTaken
	}
	*seat = Seat{Identity: identity, Channel: channel, DisplayName: displayName}
	s.removeObserver(identity)
	if s.SeatA.Occupied() && s.SeatB.Occupied() {
		s.Status = StatusActive
	}
	s.Touch(now)
	return nil
}

// RebindSeat replaces the channel of an occupied seat without touching its
// identity. An empty displayName keeps the stored one.
func (s *Session) RebindSeat(role Role, channel, displayName string, now time.Time) error {
	seat := s.Seat(role)
	if seat == nil {
		return ErrInvalidRole
	}
	if !seat.Occupied() {
		return ErrNotFound
	}
	seat.Channel = channel
	if displayName != "" {
		seat.DisplayName = displayName
	}
	s.Touch(now)
	return nil
}

// UpsertObserver adds identity as an observer or replaces the channel of its
// existing entry. An empty displayName keeps the stored one.
func (s *Session) UpsertObserver(identity, channel, displayName string, now time.Time) error {
	if s.SeatA.Identity == identity || s.SeatB.Identity == identity {
		return ErrSeatTaken
	}
	if i := s.observerIndex(identity); i >= 0 {
		s.Observers[i].Channel = channel
		if displayName != "" {
			s.Observers[i].DisplayName = displayName
		}
	} else {
		s.Observers = append(s.Observers, Observer{Identity: identity, Channel: channel, DisplayName: displayName})
	}
	s.Touch(now)
	return nil
}

// Rebind refreshes the channel of whichever entry identity already holds.
func (s *Session) Rebind(identity, channel, displayName string, now time.Time) (Role, error) {
	role, ok := s.RoleOf(identity)
	if !ok {
		return "", ErrNotFound
	}
	if role.IsSeat() {
		return role, s.RebindSeat(role, channel, displayName, now)
	}
	return role, s.UpsertObserver(identity, channel, displayName, now)
}

// Unbind releases channel. A seat keeps its identity and display name so the
// identity can recover it; an observer entry is removed outright.
func (s *Session) Unbind(channel string, now time.Time) (Role, string, bool) {
	if channel == "" {
		return "", "", false
	}
	for _, role := range []Role{RoleSeatA, RoleSeatB} {
		seat := s.Seat(role)
		if seat.Channel == channel {
			seat.Channel = ""
			s.Touch(now)
			return role, seat.Identity, true
		}
	}
	for i, o := range s.Observers {
		if o.Channel == channel {
			s.Observers = slices.Delete(s.Observers, i, i+1)
			s.Touch(now)
			return RoleObserver, o.Identity, true
		}
	}
	return "", "", false
}

// BindingOf returns the role and identity bound to channel.
func (s *Session) BindingOf(channel string) (Role, string, bool) {
	if channel == "" {
		return "", "", false
	}
	switch channel {
	case s.SeatA.Channel:
		return RoleSeatA, s.SeatA.Identity, true
	case s.SeatB.Channel:
		return RoleSeatB, s.SeatB.Identity, true
	}
	for _, o := range s.Observers {
		if o.Channel == channel {
			return RoleObserver, o.Identity, true
		}
	}
	return "", "", false
}

// Channels lists every channel currently bound to the session.
func (s *Session) Channels() []string {
	out := make([]string, 0, len(s.Observers)+2)
	if s.SeatA.Channel != "" {
		out = append(out, s.SeatA.Channel)
	}
	if s.SeatB.Channel != "" {
		out = append(out, s.SeatB.Channel)
	}
	for _, o := range s.Observers {
		if o.Channel != "" {
			out = append(out, o.Channel)
		}
	}
	return out
}

// DisplayNameOf returns the stored display name of identity.
func (s *Session) DisplayNameOf(identity string) string {
	switch identity {
	case "":
		return ""
	case s.SeatA.Identity:
		return s.SeatA.DisplayName
	case s.SeatB.Identity:
		return s.SeatB.DisplayName
	}
	if i := s.observerIndex(identity); i >= 0 {
		return s.Observers[i].DisplayName
	}
	return ""
}

// ApplyMove appends to History and replaces State in one step.
func (s *Session) ApplyMove(seat Role, payload, notation, nextState string, now time.Time) error {
	if !seat.IsSeat() {
		return ErrInvalidRole
	}
	if s.Status != StatusActive {
		return ErrClosed
	}
	s.History = append(s.History, Move{
		Seat:      seat,
		Payload:   payload,
		Notation:  notation,
		Timestamp: now,
	})
	s.State = nextState
	s.Touch(now)
	return nil
}

// Close moves the session into StatusClosed with outcome. It fails if the
// session is already closed so the outcome is written exactly once.
func (s *Session) Close(outcome Outcome, now time.Time) error {
	if s.Status == StatusClosed {
		return ErrClosed
	}
	if outcome == OutcomeNone {
		return ErrInvalidOutcome
	}
	s.Status = StatusClosed
	s.Outcome = outcome
	t := now
	s.ClosedAt = &t
	s.Touch(now)
	return nil
}

// Reset starts a new activity in the same session. Membership is untouched
// and the status is recomputed from seat occupancy.
func (s *Session) Reset(initialState string, now time.Time) {
	s.State = initialState
	s.History = []Move{}
	s.Outcome = OutcomeNone
	s.ClosedAt = nil
	if s.SeatA.Occupied() && s.SeatB.Occupied() {
		s.Status = StatusActive
	} else {
		s.Status = StatusOpen
	}
	s.Touch(now)
}

func (s *Session) observerIndex(identity string) int {
	return slices.IndexFunc(s.Observers, func(o Observer) bool {
		return o.Identity == identity
	})
}

func (s *Session) removeObserver(identity string) {
	if i := s.observerIndex(identity); i >= 0 {
		s.Observers = slices.Delete(s.Observers, i, i+1)
	}
}
