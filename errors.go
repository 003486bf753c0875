package mnthr

import "github.com/pkg/errors"

// RC is the result-code sentinel carried by a fiber's last suspension
// primitive. Zero and positive values are reserved for user fibers;
// negative values are the runtime's own vocabulary (§6 of the spec this
// module implements).
type RC int

const (
	RCOK                  RC = 0
	RCExited              RC = -1
	RCUserInterrupted     RC = -2
	RCTimedOut            RC = -3
	RCSimultaneous        RC = -4
	RCPoller              RC = -5
	RCJoinFailure         RC = -6
	RCWaitTimeout         RC = -7
	RCTryAcquireFail      RC = -8
	RCTryAcquireReadFail  RC = -9
	RCTryAcquireWriteFail RC = -10
)

func (rc RC) String() string {
	switch rc {
	case RCOK:
		return "OK"
	case RCExited:
		return "EXITED"
	case RCUserInterrupted:
		return "USER_INTERRUPTED"
	case RCTimedOut:
		return "TIMEDOUT"
	case RCSimultaneous:
		return "SIMULTANEOUS"
	case RCPoller:
		return "POLLER"
	case RCJoinFailure:
		return "JOIN_FAILURE"
	case RCWaitTimeout:
		return "WAIT_TIMEOUT"
	case RCTryAcquireFail:
		return "TRY_ACQUIRE_FAIL"
	case RCTryAcquireReadFail:
		return "TRY_ACQUIRE_READ_FAIL"
	case RCTryAcquireWriteFail:
		return "TRY_ACQUIRE_WRITE_FAIL"
	default:
		return "USER"
	}
}

// ErrClosed is returned by Loop once Close has been called or the
// poller-feeder goroutine has stopped. It is a recoverable condition,
// not an invariant violation — contrast with the panics raised by fatalf.
var ErrClosed = errors.New("mnthr: runtime is closed or shutting down")

// fatalf reports a programming-error invariant violation (spec §7:
// "aborts with a diagnostic. These are asserts, not recoverable.").
func fatalf(format string, args ...interface{}) {
	panic(errors.Errorf("mnthr: invariant violation: "+format, args...))
}
