package session

import "errors"

var (
	// ErrNotFound is returned when a session or a member of it does not exist
	ErrNotFound = errors.New("session not found")
	// ErrUnauthorized is returned when a caller may not perform an action
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is returned when a compare-and-swap update lost a race
	ErrConflict = errors.New("session was modified concurrently")
	// ErrInvalidTransition is returned when the rules engine rejects a move
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrStoreUnavailable is returned when persistence fails or times out
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrActiveExists is returned when creating a session while another is open or active
	ErrActiveExists = errors.New("an open or active session already exists")
	// ErrSeatTaken is returned when a seat is held by a different identity
	ErrSeatTaken = errors.New("seat is held by another identity")
	// ErrClosed is returned when mutating a closed session
	ErrClosed = errors.New("session is closed")
	// ErrInvalidRole is returned for seat operations on a non-seat role
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidOutcome is returned when closing without an outcome
	ErrInvalidOutcome = errors.New("invalid outcome")
	// ErrInvalidInput is returned for malformed requests such as an empty chat message
	ErrInvalidInput = errors.New("invalid input")
)
