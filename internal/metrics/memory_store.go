package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process TransientStore for environments without a
// Redis backend, and for tests. Entries do not expire; finalization clears
// them.
type MemoryStore struct {
	mu    sync.Mutex
	joins map[uuid.UUID]map[uuid.UUID]time.Time
	live  map[uuid.UUID]map[uuid.UUID]struct{}
	watch map[uuid.UUID]map[uuid.UUID]float64
}

var _ TransientStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory transient store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		joins: make(map[uuid.UUID]map[uuid.UUID]time.Time),
		live:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
		watch: make(map[uuid.UUID]map[uuid.UUID]float64),
	}
}

func (s *MemoryStore) SetJoinTime(_ context.Context, sessionID, userID uuid.UUID, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joins[sessionID] == nil {
		s.joins[sessionID] = make(map[uuid.UUID]time.Time)
	}
	s.joins[sessionID][userID] = t
	return nil
}

func (s *MemoryStore) JoinTime(_ context.Context, sessionID, userID uuid.UUID) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.joins[sessionID][userID]
	return t, ok, nil
}

func (s *MemoryStore) DeleteJoinTime(_ context.Context, sessionID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joins[sessionID], userID)
	return nil
}

func (s *MemoryStore) AddActive(_ context.Context, sessionID, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live[sessionID] == nil {
		s.live[sessionID] = make(map[uuid.UUID]struct{})
	}
	s.live[sessionID][userID] = struct{}{}
	return len(s.live[sessionID]), nil
}

func (s *MemoryStore) RemoveActive(_ context.Context, sessionID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live[sessionID], userID)
	return nil
}

func (s *MemoryStore) ActiveMembers(_ context.Context, sessionID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]uuid.UUID, 0, len(s.live[sessionID]))
	for id := range s.live[sessionID] {
		members = append(members, id)
	}
	return members, nil
}

func (s *MemoryStore) SetWatchSecs(_ context.Context, sessionID, userID uuid.UUID, secs float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watch[sessionID] == nil {
		s.watch[sessionID] = make(map[uuid.UUID]float64)
	}
	s.watch[sessionID][userID] = secs
	return nil
}

func (s *MemoryStore) WatchSecs(_ context.Context, sessionID uuid.UUID) (map[uuid.UUID]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]float64, len(s.watch[sessionID]))
	for id, secs := range s.watch[sessionID] {
		out[id] = secs
	}
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joins, sessionID)
	delete(s.live, sessionID)
	delete(s.watch, sessionID)
	return nil
}
