package coordinator

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned by JobByID when no row matches.
var ErrJobNotFound = errors.New("coordinator: job not found")

// Store is the persistence adapter for job, slot, and controller rows. The
// Dispatcher is the only caller; every method is expected to be safe to
// invoke from the Dispatcher's mailbox goroutine via pkg/async.Exec, i.e.
// it may block on network I/O but must not retain Dispatcher state.
type Store interface {
	// NextPendingJob returns one pending job for controllerID whose owning
	// user currently holds a slot on that controller, or nil if none is
	// eligible right now.
	NextPendingJob(ctx context.Context, controllerID int64) (*Job, error)
	// MarkRunning transitions jobID to Running.
	MarkRunning(ctx context.Context, jobID int64) error
	// FinishJob idempotently writes a terminal status for jobID.
	FinishJob(ctx context.Context, jobID int64, successful bool) error
	// JobByID fetches a job row by id.
	JobByID(ctx context.Context, jobID int64) (*Job, error)
	// AbortPending transitions a Pending job directly to Failed, inside a
	// transaction that first confirms the job's current status.
	AbortPending(ctx context.Context, jobID int64) error
	// AbortRunning atomically transitions a Running job to Failed and returns
	// the controller owning it, for the caller to then message that controller.
	AbortRunning(ctx context.Context, jobID int64) (controllerID int64, err error)
}
