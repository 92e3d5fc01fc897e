package scheduler

import "time"

// Clock abstracts time so deadline behavior is testable without sleeping.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the armed-callback handle returned by AfterFunc.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// NewRealClock returns the wall-clock implementation.
func NewRealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
