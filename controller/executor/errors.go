package executor

import (
	"encoding/json"
	"errors"

	"github.com/hwrig/testbed/sandbox"
)

// Cause classifies an error by who is responsible for it: the user's
// experiment code, a cooperative abort, or the controller's own plumbing.
type Cause string

const (
	CauseUser     Cause = "User"
	CauseAbort    Cause = "Abort"
	CauseInternal Cause = "Internal"
)

var (
	// ErrJobAborted is returned when the Connection reports the running
	// job has been aborted, checked once before each command is written.
	ErrJobAborted = errors.New("executor: job aborted")
	// ErrEarlyExit is returned when the receiver process terminates
	// before the experiment has finished running.
	ErrEarlyExit = errors.New("executor: receiver exited early")
)

// RunError is the structured error a job run fails with. It is also the
// shape serialized into the job's output whenever a run fails, whatever the
// cause, so the owning user can see what went wrong.
type RunError struct {
	Kind    string `json:"kind"`
	Cause   Cause  `json:"cause"`
	Detail  string `json:"detail,omitempty"`
	Context string `json:"context,omitempty"`
	Output  string `json:"output,omitempty"`
	cause   error
}

func (e *RunError) Error() string {
	if e.Context != "" {
		return e.Context + ": " + e.Kind
	}
	return e.Kind
}

func (e *RunError) Unwrap() error {
	return e.cause
}

func newRunError(kind string, cause Cause, wrapped error) *RunError {
	re := &RunError{Kind: kind, Cause: cause, cause: wrapped}
	if wrapped != nil {
		re.Detail = wrapped.Error()
	}
	return re
}

func withContext(err *RunError, context string) *RunError {
	err.Context = context
	return err
}

func withOutput(err *RunError, output string) *RunError {
	err.Output = output
	return err
}

// classifySandboxErr maps a sandbox package error to a RunError, using the
// sandbox package's own cause taxonomy.
func classifySandboxErr(kind string, err error, context string) *RunError {
	cause := CauseInternal
	switch sandbox.CauseOf(err) {
	case sandbox.CauseUser:
		cause = CauseUser
	}
	re := newRunError(kind, cause, err)
	re.Context = context
	return re
}

// marshalRunError serializes a RunError as the job's output when the run
// fails, matching the `{kind,cause,detail?,context?,output?}` shape callers
// downstream expect.
func marshalRunError(re *RunError) ([]byte, error) {
	return json.Marshal(re)
}
