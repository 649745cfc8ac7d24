package core

import (
	"time"

	"github.com/amoylab/gameroom/internal/common/errorx"
	"github.com/amoylab/gameroom/internal/session"
)

// EventType is the wire name of an outbound event.
type EventType string

const (
	EventRoleAssigned           EventType = "role_assigned"
	EventStateSnapshot          EventType = "state_snapshot"
	EventHistorySnapshot        EventType = "history_snapshot"
	EventRosterChanged          EventType = "roster_changed"
	EventParticipantJoined      EventType = "participant_joined"
	EventParticipantReconnected EventType = "participant_reconnected"
	EventParticipantLeft        EventType = "participant_left"
	EventTransitionApplied      EventType = "transition_applied"
	EventActivityClosed         EventType = "activity_closed"
	EventAuthorizationDenied    EventType = "authorization_denied"
	EventOperationFailed        EventType = "operation_failed"
	EventActivityReset          EventType = "activity_reset"
	EventStatsSnapshot          EventType = "stats_snapshot"
	EventChatMessage            EventType = "chat_message"
	EventPlayerReady            EventType = "player_ready"
	EventSuperseded             EventType = "superseded"
)

// Event is one outbound message. Data is marshalled as JSON by the transport.
// Version is the session version the event was produced from; clients may
// discard snapshots older than one they already hold.
type Event struct {
	Type    EventType `json:"type"`
	Data    any       `json:"data"`
	Version int64     `json:"version,omitempty"`
}

// Emitter delivers events to a single channel. The controller calls it while
// holding the session lock so every channel sees commits in order; Emit must
// therefore return promptly and never call back into the controller.
type Emitter interface {
	Emit(channel string, ev Event)
}

type RoleAssignedData struct {
	SessionID   string       `json:"session_id"`
	Role        session.Role `json:"role"`
	Identity    string       `json:"identity"`
	DisplayName string       `json:"display_name"`
	Recovered   bool         `json:"recovered"`
}

type StateData struct {
	SessionID string          `json:"session_id"`
	State     string          `json:"state"`
	Turn      session.Role    `json:"turn,omitempty"`
	Status    session.Status  `json:"status"`
	Outcome   session.Outcome `json:"outcome,omitempty"`
}

type HistoryData struct {
	SessionID string         `json:"session_id"`
	History   []session.Move `json:"history"`
}

// Participant describes a seat holder in roster and summary payloads.
type Participant struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	Connected   bool   `json:"connected"`
}

type RosterData struct {
	SessionID     string         `json:"session_id"`
	Status        session.Status `json:"status"`
	SeatA         *Participant   `json:"seat_a"`
	SeatB         *Participant   `json:"seat_b"`
	ObserverCount int            `json:"observer_count"`
}

type ParticipantData struct {
	Identity    string       `json:"identity"`
	DisplayName string       `json:"display_name"`
	Role        session.Role `json:"role"`
}

type TransitionData struct {
	Seat     session.Role `json:"seat"`
	Identity string       `json:"identity"`
	Payload  string       `json:"payload"`
	Notation string       `json:"notation"`
}

type ClosedData struct {
	SessionID string          `json:"session_id"`
	Outcome   session.Outcome `json:"outcome"`
	ClosedAt  *time.Time      `json:"closed_at,omitempty"`
}

type DeniedData struct {
	Reason  DenyReason `json:"reason"`
	Message string     `json:"message"`
}

type FailedData struct {
	Code      string `json:"code"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	Transient bool   `json:"transient"`
}

type ResetData struct {
	SessionID string `json:"session_id"`
}

// SupersededData tells a channel that its identity reconnected elsewhere.
type SupersededData struct {
	SessionID string `json:"session_id"`
}

type ChatData struct {
	Identity    string       `json:"identity"`
	DisplayName string       `json:"display_name"`
	Role        session.Role `json:"role"`
	Text        string       `json:"text"`
	Timestamp   time.Time    `json:"timestamp"`
}

type ReadyData struct {
	Identity    string       `json:"identity"`
	DisplayName string       `json:"display_name"`
	Role        session.Role `json:"role"`
}

func participantOf(seat session.Seat) *Participant {
	if !seat.Occupied() {
		return nil
	}
	return &Participant{
		Identity:    seat.Identity,
		DisplayName: seat.DisplayName,
		Connected:   seat.Channel != "",
	}
}

func rosterOf(s *session.Session) RosterData {
	return RosterData{
		SessionID:     s.ID,
		Status:        s.Status,
		SeatA:         participantOf(s.SeatA),
		SeatB:         participantOf(s.SeatB),
		ObserverCount: len(s.Observers),
	}
}

func historyOf(s *session.Session) HistoryData {
	return HistoryData{SessionID: s.ID, History: s.History}
}

func failedOf(err error) FailedData {
	apiErr := errorx.Classify(err)
	return FailedData{
		Code:      apiErr.Code,
		Category:  string(apiErr.Category),
		Message:   apiErr.Message,
		Transient: apiErr.Transient,
	}
}
