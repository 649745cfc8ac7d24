// Package rules adapts activity rules to the session coordinator.
package rules

import (
	"encoding/json"
	"fmt"

	"github.com/amoylab/gameroom/internal/session"
)

// Result is the outcome of an accepted transition.
type Result struct {
	State    string          // next state blob
	Move     string          // canonical form of the payload, stored in history
	Notation string          // human-readable notation
	Terminal session.Outcome // OutcomeNone unless the activity ended
}

// Engine decides which seat moves next and whether a transition is legal.
// State blobs are opaque to the coordinator.
type Engine interface {
	// Initial returns the canonical starting state.
	Initial() string
	// Turn reports the seat expected to move in state.
	Turn(state string) (session.Role, error)
	// Apply validates payload against state. Rejections wrap
	// session.ErrInvalidTransition.
	Apply(state string, payload json.RawMessage) (*Result, error)
}

// Reject builds an invalid transition error carrying reason verbatim.
func Reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", session.ErrInvalidTransition, fmt.Sprintf(format, args...))
}

// New returns the engine registered under name.
func New(name string) (Engine, error) {
	switch name {
	case "", "chess":
		return NewChess(), nil
	default:
		return nil, fmt.Errorf("unsupported rules engine: %s", name)
	}
}
