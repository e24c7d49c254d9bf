// Package idempotency remembers recently handled keys so redelivered events
// are processed once.
package idempotency

import (
	"strings"
	"sync"
	"time"
)

const defaultTTL = 10 * time.Minute

type Seen struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]time.Time
}

func NewSeen(ttl time.Duration, now func() time.Time) *Seen {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Seen{ttl: ttl, now: now, keys: make(map[string]time.Time)}
}

// Mark records key and reports whether it was new. Empty keys are always new.
func (s *Seen) Mark(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, at := range s.keys {
		if now.Sub(at) > s.ttl {
			delete(s.keys, k)
		}
	}
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = now
	return true
}
