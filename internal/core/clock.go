package core

import "time"

// Clock is injected wherever elapsed time drives a decision, so tests can
// move time without sleeping.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func RealClock() Clock { return realClock{} }
