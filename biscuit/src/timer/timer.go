// Package timer glues the kernel's notion of elapsed time to the syscalls
// that expose it (gettimeofday, times, clock_gettime, nanosleep). The timer
// hardware itself -- the RISC-V mtime/mtimecmp pair a real deployment would
// read -- is external to this core (spec SS6), so Clock stands in for it.
package timer

import "time"

import "golang.org/x/sys/unix"

/// Clock is the timer-hardware collaborator this package consumes rather
/// than implements: something that can report the current time and deliver
/// a one-shot notification after a duration, the software analogue of
/// programming mtimecmp and waiting for the resulting timer interrupt.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

/// SystemClock is the Clock backed by the host's real time, the default
/// wired in at boot.
var SystemClock Clock = systemClock{}

var boot = SystemClock.Now()

/// GetTimeMs returns milliseconds elapsed since boot, the value get_time
/// returns in the original kernel's syscall/process.rs.
func GetTimeMs(c Clock) int64 {
	return c.Now().Sub(boot).Milliseconds()
}

/// TimeVal mirrors struct timeval's wire layout, built with
/// golang.org/x/sys/unix instead of a hand-rolled byte packer.
type TimeVal = unix.Timeval

/// Gettimeofday returns the current wall-clock time as a TimeVal.
func Gettimeofday(c Clock) TimeVal {
	now := c.Now()
	return unix.NsecToTimeval(now.UnixNano())
}

/// Tms mirrors struct tms from times(2): four clock-tick counts. No code
/// fills one in: the times syscall returns 0 without writing a Tms to user
/// memory, and no process accounting is merged into a parent on reap.
type Tms struct {
	Utime, Stime, Cutime, Cstime int64
}

/// ClockGettime returns the current time as a TimeVal for CLOCK_REALTIME
/// and CLOCK_MONOTONIC alike -- this kernel keeps no separate monotonic
/// clock, since it never adjusts wall-clock time after boot.
func ClockGettime(c Clock) TimeVal {
	return Gettimeofday(c)
}

/// Nanosleep busy-waits for d, yielding to the scheduler's ready queue
/// between checks via yield rather than blocking -- the spec's open
/// question (a) permits this simpler-than-a-timer-wheel implementation.
func Nanosleep(c Clock, d time.Duration, yield func()) {
	deadline := c.Now().Add(d)
	for c.Now().Before(deadline) {
		if yield != nil {
			yield()
		}
	}
}
