package board

import "time"

// Clock is the millisecond time source every timed operation goes through.
type Clock interface {
	Now() time.Time
	// Sleep blocks the caller for d.
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock is backed by the time package.
var SystemClock Clock = systemClock{}

// Elapsed reports whether at least d has passed on c since the timestamp.
// It never blocks.
func Elapsed(c Clock, since time.Time, d time.Duration) bool {
	return c.Now().Sub(since) >= d
}
