package channel

import "time"

// Clock abstracts time so reconnection can be tested without sleeping.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine after d. The returned function
	// cancels the call and reports whether it was still pending.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// SystemClock is the Clock backed by package time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}
