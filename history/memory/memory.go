// Package memory provides a thread-safe in-memory history.Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okulov/passport/history"
)

// Store is an in-memory history.Store. Suitable for tests and
// single-process deployments.
type Store struct {
	mu     sync.RWMutex
	logins map[string]history.Login // record id -> login
}

var _ history.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{logins: make(map[string]history.Login)}
}

func (s *Store) Record(_ context.Context, login history.Login) error {
	if login.ID == "" {
		return fmt.Errorf("login record requires an id")
	}
	s.mu.Lock()
	s.logins[login.ID] = login
	s.mu.Unlock()
	return nil
}

func (s *Store) ByID(_ context.Context, id string) (history.Login, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	login, ok := s.logins[id]
	if !ok {
		return history.Login{}, fmt.Errorf("id %s: %w", id, history.ErrNotFound)
	}
	return login, nil
}

func (s *Store) BySession(_ context.Context, sessionID string) (history.Login, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, login := range s.logins {
		if login.SessionID == sessionID {
			return login, nil
		}
	}
	return history.Login{}, fmt.Errorf("session %s: %w", sessionID, history.ErrNotFound)
}

func (s *Store) ByPrincipal(_ context.Context, principal string) ([]history.Login, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []history.Login
	for _, login := range s.logins {
		if login.Principal == principal {
			out = append(out, login)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) Touch(_ context.Context, sessionID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, login := range s.logins {
		if login.SessionID == sessionID {
			login.ExpiresAt = expiresAt
			s.logins[id] = login
			return nil
		}
	}
	return fmt.Errorf("session %s: %w", sessionID, history.ErrNotFound)
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logins[id]; !ok {
		return fmt.Errorf("id %s: %w", id, history.ErrNotFound)
	}
	delete(s.logins, id)
	return nil
}

func (s *Store) DeleteByPrincipal(_ context.Context, principal, exceptSession string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sessions []string
	for id, login := range s.logins {
		if login.Principal != principal {
			continue
		}
		if exceptSession != "" && login.SessionID == exceptSession {
			continue
		}
		sessions = append(sessions, login.SessionID)
		delete(s.logins, id)
	}
	return sessions, nil
}

func (s *Store) Prune(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, login := range s.logins {
		if !login.ExpiresAt.IsZero() && !login.ExpiresAt.After(now) {
			delete(s.logins, id)
			pruned++
		}
	}
	return pruned, nil
}
