package socket

import "time"

// Clock is the host application's frame clock. Seconds is called from
// connection goroutines as well as from Tick, so it must be safe for
// concurrent use.
type Clock interface {
	Seconds() float64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() float64

func (f ClockFunc) Seconds() float64 { return f() }

// SystemClock counts monotonic seconds from the moment it is created.
func SystemClock() Clock {
	start := time.Now()
	return ClockFunc(func() float64 {
		return time.Since(start).Seconds()
	})
}
