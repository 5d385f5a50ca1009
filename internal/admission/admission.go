// Package admission pre-emptively throttles order creation before any
// business logic runs. The counter is a fixed window per identifier:
// the first request of a window fixes the reset time, requests inside
// the window consume up to the maximum, and a request arriving at or
// after the reset time starts a fresh window.
package admission

import (
	"context"
	"sync"
	"time"

	"github.com/studyowl/creditgate/internal/clock"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Store counts requests per identifier. Implementations are safe for
// concurrent use.
type Store interface {
	CheckAndConsume(ctx context.Context, identifier string, maxRequests int, window time.Duration) (Decision, error)
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

// LocalStore is the process-local store. Window state lives in memory
// only and resets on restart.
type LocalStore struct {
	clk clock.Clock

	mu      sync.Mutex
	windows map[string]*windowEntry
}

func NewLocalStore(clk clock.Clock) *LocalStore {
	return &LocalStore{
		clk:     clk,
		windows: map[string]*windowEntry{},
	}
}

func (s *LocalStore) CheckAndConsume(ctx context.Context, identifier string, maxRequests int, window time.Duration) (Decision, error) {
	_ = ctx
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.windows[identifier]
	// A request arriving exactly at resetAt belongs to the next window.
	if !ok || !now.Before(entry.resetAt) {
		entry = &windowEntry{count: 1, resetAt: now.Add(window)}
		s.windows[identifier] = entry
		return Decision{Allowed: true, Remaining: maxRequests - 1, ResetAt: entry.resetAt}, nil
	}

	if entry.count >= maxRequests {
		return Decision{Allowed: false, Remaining: 0, ResetAt: entry.resetAt}, nil
	}

	entry.count++
	return Decision{Allowed: true, Remaining: maxRequests - entry.count, ResetAt: entry.resetAt}, nil
}

// Sweep drops expired windows to bound memory. Expiry is checked under
// the same lock the counters use, so a sweep cannot race an in-flight
// increment on the same key.
func (s *LocalStore) Sweep() int {
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.windows {
		if !now.Before(entry.resetAt) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked windows, expired or not.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
