package mnthr

import "time"

// Deadline sentinels (§3 Fiber record: "deadline: absolute tick value or
// one of UNDEFINED, RESUME_NOW, FOREVER"). Ticks are nanoseconds since
// the clock's epoch: Go's monotonic clock reads (time.Since against a
// fixed reference) are cheap enough that there is no need for the
// CPU-counter backend the spec mentions as an alternative — see
// DESIGN.md's clock.go entry.
const (
	DeadlineUndefined int64 = -1
	DeadlineResumeNow int64 = 1
	DeadlineForever   int64 = 1<<63 - 1
)

// Clock is the runtime's monotonic time source. now is refreshed once
// per scheduler turn (Runtime.Loop) and read directly by every other
// component in between — it is never re-read mid-turn, matching §5's
// "clock snapshot" shared-singleton model.
type Clock struct {
	epoch time.Time
	now   int64
}

func newClock() *Clock {
	c := &Clock{epoch: time.Now()}
	c.refresh()
	return c
}

// refresh forces a fresh read and returns it (now_precise()).
func (c *Clock) refresh() int64 {
	c.now = int64(time.Since(c.epoch))
	if c.now < 1 {
		c.now = 1
	}
	return c.now
}

// Now returns the last snapshot (now()).
func (c *Clock) Now() int64 { return c.now }

// NowPrecise forces a refresh and returns it.
func (c *Clock) NowPrecise() int64 { return c.refresh() }

// MsecToTicks converts milliseconds to the internal tick unit.
func MsecToTicks(msec int64) int64 { return msec * int64(time.Millisecond) }

// UsecToTicks converts microseconds to the internal tick unit.
func UsecToTicks(usec int64) int64 { return usec * int64(time.Microsecond) }

// TicksToSec converts a duration expressed in ticks to fractional seconds.
func TicksToSec(ticks int64) float64 { return float64(ticks) / float64(time.Second) }

// TicksDiffToSec converts the difference of two tick values to fractional seconds.
func TicksDiffToSec(a, b int64) float64 { return float64(a-b) / float64(time.Second) }
