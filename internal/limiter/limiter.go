// Package limiter implements a per-key sliding-window rate limit: at most
// Max accepted requests per key within the trailing Window. Rejections do
// not consume quota.
package limiter

import (
	"context"
	"time"
)

const (
	DefaultWindow = 60 * time.Second
	DefaultMax    = 5
)

// Store decides whether a request for key may proceed at instant now.
// Implementations must be safe for concurrent use; two concurrent calls for
// the same key must never both take the last remaining slot.
type Store interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, error)
}
