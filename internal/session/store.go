package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Store persists session records.
//
// Implementations return deep copies, never shared pointers. Update is a
// compare-and-swap on Version: it fails with ErrConflict when the stored
// version differs from the caller's, and on success bumps Version in place.
type Store interface {
	// CreateActive stores s unless an open or active session already exists,
	// in which case it returns ErrActiveExists.
	CreateActive(ctx context.Context, s *Session) error

	// Get returns the session with id.
	Get(ctx context.Context, id string) (*Session, error)

	// FindActive returns the single open or active session.
	FindActive(ctx context.Context) (*Session, error)

	// List returns sessions in any of statuses, or all sessions when none are
	// given, ordered by creation time.
	List(ctx context.Context, statuses ...Status) ([]*Session, error)

	// Update writes s if its Version matches the stored one. Moving a closed
	// session back to open or active fails with ErrActiveExists when another
	// live session exists.
	Update(ctx context.Context, s *Session) error

	// Delete removes the session with id.
	Delete(ctx context.Context, id string) error

	// Close releases resources held by the store.
	Close() error
}

func matchStatus(s *Session, statuses []Status) bool {
	return len(statuses) == 0 || slices.Contains(statuses, s.Status)
}

func sortByCreation(list []*Session) {
	slices.SortStableFunc(list, func(a, b *Session) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

// unavailable wraps backend failures so callers can treat them as transient.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
