package review

import (
	"fmt"
	"sync"
	"time"

	"github.com/diffpilot/diffpilot/internal/core"
)

// sessionTTL bounds how long a loaded review stays addressable after its
// last use.
const sessionTTL = time.Hour

// reviewEntry is the per-review state kept between HTTP calls: the immutable
// PR snapshot plus the repo's own review configuration.
type reviewEntry struct {
	pr       *core.PRInfo
	repoCfg  *core.RepoConfig
	lastUsed time.Time
}

// Sessions is the in-memory registry of loaded reviews, keyed by review ID.
// Entries expire lazily; there is no background sweeper to leak.
type Sessions struct {
	mu      sync.Mutex
	entries map[string]*reviewEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewSessions() *Sessions {
	return &Sessions{
		entries: make(map[string]*reviewEntry),
		ttl:     sessionTTL,
		now:     time.Now,
	}
}

// Put registers a freshly loaded PR under its review ID.
func (s *Sessions) Put(pr *core.PRInfo, repoCfg *core.RepoConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[pr.ReviewID] = &reviewEntry{pr: pr, repoCfg: repoCfg, lastUsed: s.now()}
}

// Get resolves a review ID, refreshing its TTL.
func (s *Sessions) Get(reviewID string) (*core.PRInfo, *core.RepoConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	entry, ok := s.entries[reviewID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: review %s", core.ErrNotFound, reviewID)
	}
	entry.lastUsed = s.now()
	return entry.pr, entry.repoCfg, nil
}

func (s *Sessions) sweepLocked() {
	cutoff := s.now().Add(-s.ttl)
	for id, entry := range s.entries {
		if entry.lastUsed.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}
