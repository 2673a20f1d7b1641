package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"verigate/internal/session/models"
	id "verigate/pkg/domain"
	"verigate/pkg/platform/sentinel"
)

// InMemoryStore keeps sessions in process. Bulk operations hold the write
// lock for one pass, matching the single-statement semantics of PostgresStore.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*models.Session
	byToken  map[string]id.SessionID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[id.SessionID]*models.Session),
		byToken:  make(map[string]id.SessionID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.byToken[session.Token]; exists {
		return sentinel.ErrConflict
	}
	s.sessions[session.ID] = session.Clone()
	s.byToken[session.Token] = session.ID
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, sessionID id.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return session.Clone(), nil
}

func (s *InMemoryStore) FindByToken(_ context.Context, token string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessionID, ok := s.byToken[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.sessions[sessionID].Clone(), nil
}

// Transition moves the session to status only while its current status is in
// from. A session in another status yields sentinel.ErrInvalidState.
func (s *InMemoryStore) Transition(_ context.Context, sessionID id.SessionID, from []models.Status, to models.Status, now time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !slices.Contains(from, session.Status) {
		return nil, sentinel.ErrInvalidState
	}
	applyStatus(session, to, now)
	return session.Clone(), nil
}

func (s *InMemoryStore) ExpireDue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, session := range s.sessions {
		if !session.Status.IsTerminal() && session.ExpiresAt.Before(now) {
			applyStatus(session, models.StatusExpired, now)
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) DeleteTerminatedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for sessionID, session := range s.sessions {
		if session.Status.IsTerminal() && terminalSince(session).Before(cutoff) {
			delete(s.byToken, session.Token)
			delete(s.sessions, sessionID)
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) Stats(_ context.Context, now time.Time, window time.Duration) (models.ExpirationStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats models.ExpirationStats
	for _, session := range s.sessions {
		stats.Total++
		switch session.Status {
		case models.StatusExpired:
			stats.Expired++
		case models.StatusTerminated:
			stats.Terminated++
		default:
			stats.Active++
			if session.ExpiresAt.After(now) && session.ExpiresAt.Before(now.Add(window)) {
				stats.ExpiringSoon++
			}
		}
	}
	return stats, nil
}

func applyStatus(session *models.Session, to models.Status, now time.Time) {
	session.Status = to
	session.UpdatedAt = now
	if to == models.StatusTerminated {
		t := now
		session.TerminatedAt = &t
	}
}

func terminalSince(session *models.Session) time.Time {
	if session.TerminatedAt != nil {
		return *session.TerminatedAt
	}
	return session.UpdatedAt
}
