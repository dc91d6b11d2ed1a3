package sandbox

import "errors"

// Cause classifies an error by who is responsible for it, mirroring the
// error taxonomy used across the rest of the testbed.
type Cause string

const (
	CauseUser     Cause = "User"
	CauseInternal Cause = "Internal"
)

var (
	// ErrOutOfMemory is returned when the sandboxed process was killed by
	// the OOM killer (conventionally signalled as exit code 137).
	ErrOutOfMemory = errors.New("sandbox: out of memory")
	// ErrCrashed is returned when the process exited with a non-zero,
	// non-OOM status.
	ErrCrashed = errors.New("sandbox: process crashed")
	// ErrTimeOut is returned when Wait's deadline elapsed before the
	// process exited; the handle is killed before this error is returned.
	ErrTimeOut = errors.New("sandbox: timed out waiting for process")
	// ErrOutputLimitReached is returned when the combined stdout/stderr
	// buffer has reached OutputLimit bytes.
	ErrOutputLimitReached = errors.New("sandbox: output limit reached")
)

// CauseOf maps a sandbox sentinel error to its taxonomy bucket. Unrecognized
// errors (wrapped IOErrors) default to Internal.
func CauseOf(err error) Cause {
	switch {
	case errors.Is(err, ErrOutOfMemory), errors.Is(err, ErrCrashed),
		errors.Is(err, ErrTimeOut), errors.Is(err, ErrOutputLimitReached):
		return CauseUser
	default:
		return CauseInternal
	}
}
