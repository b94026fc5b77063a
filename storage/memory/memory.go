// Package memory provides a thread-safe in-memory storage.Store. Entries
// are lost on restart.
package memory

import (
	"sync"
	"time"

	"github.com/okulov/passport/storage"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Store is an in-memory storage.Store with lazy expiry on read and an
// optional background sweep.
type Store struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source, letting tests drive TTL expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		data:   make(map[string]entry),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Set(key, value string, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.data[key] = entry{value: value, expiresAt: expiresAt}
	s.mu.Unlock()
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		s.Delete(key)
		return "", false
	}
	return e.value, true
}

func (s *Store) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

// StartSweep launches a background goroutine that drops expired entries
// every interval. Stop it with Close.
func (s *Store) StartSweep(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweepExpired()
			}
		}
	}()
}

// Close stops the background sweep, if one was started.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

func (s *Store) sweepExpired() {
	now := s.now()
	s.mu.Lock()
	for key, e := range s.data {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.data, key)
		}
	}
	s.mu.Unlock()
}
