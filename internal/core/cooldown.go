package core

import "time"

// DefaultCooldown is the minimum gap between two messages for the same
// ordered (from, to) pair.
const DefaultCooldown = 2 * time.Second

// CooldownGate is a pure decision over the most recent committed message for
// a pair. It holds no state of its own.
type CooldownGate struct {
	Window time.Duration
}

func NewCooldownGate(window time.Duration) CooldownGate {
	if window <= 0 {
		window = DefaultCooldown
	}
	return CooldownGate{Window: window}
}

// Allow reports whether a new submission may proceed given the previous
// message's received_at. prev == nil means no prior message for the pair.
// The gap must strictly exceed the window.
func (g CooldownGate) Allow(prev *time.Time, now time.Time) bool {
	if prev == nil {
		return true
	}
	return now.Sub(*prev) > g.Window
}
