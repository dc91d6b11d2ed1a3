// Package coordinator is the sole authority over controller state, job
// scheduling, and result fan-out. Dispatcher owns that state behind a
// single-writer mailbox; Session is the per-connection adapter that
// decodes and encodes wire frames on Dispatcher's behalf.
package coordinator

import (
	"context"
	"errors"
)

// ControllerState mirrors the controller-side job slot: a controller is
// either idle or running exactly one job.
type ControllerState struct {
	JobID int64 // zero when Idle
}

// Idle reports whether the state has no job attached.
func (s ControllerState) Idle() bool { return s.JobID == 0 }

// Running returns the Running(jobID) state.
func Running(jobID int64) ControllerState { return ControllerState{JobID: jobID} }

// IdleState is the zero-value Idle controller state.
var IdleState = ControllerState{}

// JobStatus mirrors the job row's lifecycle.
type JobStatus string

const (
	JobPending    JobStatus = "Pending"
	JobRunning    JobStatus = "Running"
	JobSuccessful JobStatus = "Successful"
	JobFailed     JobStatus = "Failed"
)

// Job is the subset of the job row the Dispatcher needs to schedule and
// report on.
type Job struct {
	ID           int64
	UserID       int64
	ControllerID int64
	Code         string
	Status       JobStatus
}

// sessionOutbound is the narrow surface Dispatcher needs from a Session: a
// non-blocking mailbox send of an outbound wire frame.
type sessionOutbound interface {
	// SendRunExperiment hands a job to the controller. Returns an error if
	// the session's outbound mailbox is gone (session already stopped).
	SendRunExperiment(jobID int64, code string) error
	// SendAbortRunningJob requests cooperative cancellation of jobID.
	SendAbortRunningJob(jobID int64) error
}

// connectedController is a live entry in the Dispatcher's registry.
type connectedController struct {
	state        ControllerState
	outbound     sessionOutbound
	lastReceiver []uint32
}

var (
	// ErrAlreadyRunning is returned by Run when the target controller is
	// already executing a job.
	ErrAlreadyRunning = errors.New("coordinator: controller already running a job")
	// ErrControllerNotConnected is returned when an operation targets a
	// controller with no live session.
	ErrControllerNotConnected = errors.New("coordinator: controller not connected")
	// ErrInvalidOperationForStatus is returned by Abort when the job is
	// already in a terminal status.
	ErrInvalidOperationForStatus = errors.New("coordinator: invalid operation for job status")
)

// dispatcherOp is the unit of work placed on the Dispatcher's mailbox; each
// op carries its own handling closure so the mailbox loop stays generic.
type dispatcherOp func(ctx context.Context)
