package limiter

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps per-key accepted-request timestamps in process memory.
// Suited to a single-instance deployment; use RedisStore when several
// instances must share quota.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry

	window  time.Duration
	max     int
	idleTTL time.Duration
}

type memEntry struct {
	times    []time.Time
	lastSeen time.Time
}

type MemoryOption func(*MemoryStore)

func WithIdleTTL(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.idleTTL = d }
}

func NewMemoryStore(window time.Duration, max int, opts ...MemoryOption) *MemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMax
	}
	s := &MemoryStore{
		entries: make(map[string]*memEntry),
		window:  window,
		max:     max,
		idleTTL: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Allow(_ context.Context, key string, now time.Time) (bool, error) {
	cutoff := now.Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		ent = &memEntry{}
		s.entries[key] = ent
	}
	ent.lastSeen = now

	// Drop timestamps that fell out of the window.
	kept := ent.times[:0]
	for _, t := range ent.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	ent.times = kept

	if len(ent.times) >= s.max {
		return false, nil
	}
	ent.times = append(ent.times, now)
	return true, nil
}

// Cleanup drops keys idle longer than idleTTL.
func (s *MemoryStore) Cleanup(now time.Time) {
	cutoff := now.Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor evicts idle keys until ctx is done.
func (s *MemoryStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.Cleanup(now)
			}
		}
	}()
}
