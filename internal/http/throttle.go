package httpapi

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/paircomms/msg-gateway/internal/metrics"
)

// IPThrottle is a coarse per-client token bucket in front of the whole API.
// It protects the process; the per-sender sliding window in the submission
// pipeline is what enforces the product quota.
type IPThrottle struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry

	rps   rate.Limit
	burst int
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewIPThrottle(rps float64, burst int) *IPThrottle {
	return &IPThrottle{
		entries: make(map[string]*throttleEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

func (t *IPThrottle) limiter(key string) *rate.Limiter {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if ent, ok := t.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}
	lim := rate.NewLimiter(t.rps, t.burst)
	t.entries[key] = &throttleEntry{lim: lim, lastSeen: now}
	return lim
}

func (t *IPThrottle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !t.limiter(host).Allow() {
			metrics.ThrottledIngress.Inc()
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Cleanup drops clients idle longer than ttl.
func (t *IPThrottle) Cleanup(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)

	t.mu.Lock()
	defer t.mu.Unlock()

	for k, ent := range t.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}

// Len reports the number of tracked clients.
func (t *IPThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// StartJanitor evicts idle clients until ctx is done.
func (t *IPThrottle) StartJanitor(ctx context.Context, every, ttl time.Duration) {
	if every <= 0 {
		return
	}
	tick := time.NewTicker(every)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				t.Cleanup(ttl)
			}
		}
	}()
}
