package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore implements Store using in-memory storage
type MemoryStore struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory session store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger:   logger.Named("session.store.memory"),
		sessions: make(map[string]*Session),
	}
}

// CreateActive implements Store.CreateActive
func (s *MemoryStore) CreateActive(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.liveIDLocked() != "" {
		return ErrActiveExists
	}
	if _, exists := s.sessions[sess.ID]; exists {
		return ErrConflict
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Get implements Store.Get
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// FindActive implements Store.FindActive
func (s *MemoryStore) FindActive(_ context.Context) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id := s.liveIDLocked()
	if id == "" {
		return nil, ErrNotFound
	}
	return s.sessions[id].Clone(), nil
}

// List implements Store.List
func (s *MemoryStore) List(_ context.Context, statuses ...Status) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if matchStatus(sess, statuses) {
			out = append(out, sess.Clone())
		}
	}
	sortByCreation(out)
	return out, nil
}

// Update implements Store.Update
func (s *MemoryStore) Update(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sess.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != sess.Version {
		return ErrConflict
	}
	if sess.IsLive() && !stored.IsLive() {
		if id := s.liveIDLocked(); id != "" && id != sess.ID {
			return ErrActiveExists
		}
	}

	sess.Version++
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Delete implements Store.Delete
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Close implements Store.Close
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) liveIDLocked() string {
	for id, sess := range s.sessions {
		if sess.IsLive() {
			return id
		}
	}
	return ""
}
