package coordinator

import (
	"context"
	"html"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/hwrig/testbed/core/logger"
	"github.com/hwrig/testbed/pkg/async"
)

const defaultMailboxBound = 256

// RunExperimentRequest is the HTTP-originated request to dispatch code to a
// connected controller.
type RunExperimentRequest struct {
	ControllerID int64
	JobID        int64
	UserID       int64
	Code         string
}

// Dispatcher is the sole authority over controller state, job scheduling,
// and result fan-out. All state lives behind a single-writer mailbox
// goroutine started by Serve; every exported method only ever enqueues work
// onto that mailbox, so the connectedController registry is never touched
// from more than one goroutine.
type Dispatcher struct {
	store         Store
	notifier      Notifier
	receiverCache ReceiverCache
	archive       TelemetryArchive
	log           *slog.Logger

	mailbox   chan dispatcherOp
	joinGroup singleflight.Group

	controllers map[int64]*connectedController
}

// New constructs a Dispatcher. archive may be nil to disable telemetry
// archiving.
func New(store Store, notifier Notifier, receiverCache ReceiverCache, archive TelemetryArchive, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store:         store,
		notifier:      notifier,
		receiverCache: receiverCache,
		archive:       archive,
		log:           log,
		mailbox:       make(chan dispatcherOp, defaultMailboxBound),
		controllers:   make(map[int64]*connectedController),
	}
}

// Serve runs the mailbox loop until ctx is cancelled. Call it once, on its
// own goroutine, for the process lifetime.
func (d *Dispatcher) Serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-d.mailbox:
			op(ctx)
		}
	}
}

func (d *Dispatcher) enqueue(op dispatcherOp) {
	d.mailbox <- op
}

// Join inserts or replaces controllerID's entry. Concurrent joins for the
// same controller (e.g. overlapping reconnect attempts) collapse into a
// single mailbox op via singleflight.
func (d *Dispatcher) Join(ctx context.Context, controllerID int64, initialState ControllerState, session sessionOutbound) {
	key := strconv.FormatInt(controllerID, 10)
	_, _, _ = d.joinGroup.Do(key, func() (any, error) {
		done := make(chan struct{})
		d.enqueue(func(ctx context.Context) {
			defer close(done)
			d.handleJoin(ctx, controllerID, initialState, session)
		})
		select {
		case <-done:
		case <-ctx.Done():
		}
		return nil, nil
	})
}

func (d *Dispatcher) handleJoin(ctx context.Context, controllerID int64, initialState ControllerState, session sessionOutbound) {
	cc := &connectedController{state: initialState, outbound: session}
	d.controllers[controllerID] = cc

	if d.receiverCache != nil {
		go func() {
			values, found, err := d.receiverCache.Get(ctx, controllerID)
			if err != nil {
				d.log.Warn("loading cached receiver values", logger.ID("controller_id", controllerID), logger.Error(err))
				return
			}
			if !found {
				return
			}
			d.enqueue(func(ctx context.Context) {
				if live, ok := d.controllers[controllerID]; ok && live == cc && live.lastReceiver == nil {
					live.lastReceiver = values
				}
			})
		}()
	}

	d.log.Info("controller joined", logger.ID("controller_id", controllerID), logger.Key("state", initialState))

	if initialState.Idle() {
		d.tryNextJob(ctx, controllerID)
	}
}

// Disconnect removes controllerID's entry. In-flight jobs are left Running:
// the controller is expected to reconnect with runningJobId and the job's
// eventual RunResult settles it.
func (d *Dispatcher) Disconnect(controllerID int64) {
	d.enqueue(func(ctx context.Context) {
		delete(d.controllers, controllerID)
		d.log.Info("controller disconnected", logger.ID("controller_id", controllerID))
	})
}

// tryNextJob looks for one eligible pending job for controllerID and, if
// found, runs it. Must only be called from the mailbox goroutine.
func (d *Dispatcher) tryNextJob(ctx context.Context, controllerID int64) {
	var job *Job
	future := async.Exec(ctx, controllerID, func(ctx context.Context, cid int64) error {
		j, err := d.store.NextPendingJob(ctx, cid)
		job = j
		return err
	})

	go func() {
		err := future.Await()
		d.enqueue(func(ctx context.Context) {
			if err != nil {
				d.log.Error("querying next pending job", logger.ID("controller_id", controllerID), logger.Error(err))
				return
			}
			if job == nil {
				return
			}
			d.handleRun(ctx, RunExperimentRequest{
				ControllerID: controllerID,
				JobID:        job.ID,
				UserID:       job.UserID,
				Code:         job.Code,
			}, nil)
		})
	}()
}

// Run dispatches req to its controller. It returns ErrControllerNotConnected
// or ErrAlreadyRunning synchronously; any failure past that precondition
// (send failure, persistence failure) is handled and logged asynchronously.
func (d *Dispatcher) Run(ctx context.Context, req RunExperimentRequest) error {
	reply := make(chan error, 1)
	d.enqueue(func(ctx context.Context) {
		d.handleRun(ctx, req, reply)
	})
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleRun must only be called from the mailbox goroutine. reply may be
// nil when called internally from tryNextJob, which has no caller waiting.
func (d *Dispatcher) handleRun(ctx context.Context, req RunExperimentRequest, reply chan<- error) {
	cc, ok := d.controllers[req.ControllerID]
	if !ok {
		if reply != nil {
			reply <- ErrControllerNotConnected
		}
		return
	}
	if !cc.state.Idle() {
		if reply != nil {
			reply <- ErrAlreadyRunning
		}
		return
	}

	cc.state = Running(req.JobID)
	if reply != nil {
		reply <- nil
	}

	code := html.UnescapeString(req.Code)
	if err := cc.outbound.SendRunExperiment(req.JobID, code); err != nil {
		d.log.Error("dispatching run experiment",
			logger.ID("job_id", req.JobID), logger.ID("controller_id", req.ControllerID), logger.Error(err))
		cc.state = IdleState
		d.finishJobAndNotify(ctx, req.JobID, false)
		d.tryNextJob(ctx, req.ControllerID)
		return
	}

	d.markRunningAndNotify(ctx, req.JobID, req.UserID)
}

// OnResult handles a controller's RunResult report: transitions the
// controller back to Idle, attempts to schedule its next job, and persists
// the terminal status. Tolerates being called twice for the same job.
func (d *Dispatcher) OnResult(controllerID, jobID int64, successful bool) {
	d.enqueue(func(ctx context.Context) {
		if cc, ok := d.controllers[controllerID]; ok {
			if cc.state.JobID != jobID {
				d.log.Warn("result job id does not match controller's running job",
					logger.ID("controller_id", controllerID), logger.ID("result_job_id", jobID), logger.ID("running_job_id", cc.state.JobID))
			}
			cc.state = IdleState
			d.tryNextJob(ctx, controllerID)
		}
		d.finishJobAndNotify(ctx, jobID, successful)
	})
}

// Abort requests cancellation of jobID. A Pending job is failed directly; a
// Running job's controller is sent AbortRunningJob; any other status is
// ErrInvalidOperationForStatus.
func (d *Dispatcher) Abort(ctx context.Context, jobID int64) error {
	reply := make(chan error, 1)
	d.enqueue(func(ctx context.Context) {
		d.handleAbort(ctx, jobID, reply)
	})
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) handleAbort(ctx context.Context, jobID int64, reply chan<- error) {
	var wasRunning bool
	var controllerID int64

	future := async.Exec(ctx, jobID, func(ctx context.Context, id int64) error {
		job, err := d.store.JobByID(ctx, id)
		if err != nil {
			return err
		}
		switch job.Status {
		case JobPending:
			return d.store.AbortPending(ctx, id)
		case JobRunning:
			cid, err := d.store.AbortRunning(ctx, id)
			if err != nil {
				return err
			}
			wasRunning = true
			controllerID = cid
			return nil
		default:
			return ErrInvalidOperationForStatus
		}
	})

	go func() {
		err := future.Await()
		d.enqueue(func(ctx context.Context) {
			if err != nil {
				reply <- err
				return
			}
			if wasRunning {
				cc, ok := d.controllers[controllerID]
				if !ok {
					d.log.Warn("abort target controller not connected",
						logger.ID("job_id", jobID), logger.ID("controller_id", controllerID))
				} else if sendErr := cc.outbound.SendAbortRunningJob(jobID); sendErr != nil {
					d.log.Error("sending abort to controller",
						logger.ID("job_id", jobID), logger.ID("controller_id", controllerID), logger.Error(sendErr))
				}
			}
			reply <- nil
		})
	}()
}

// OnReceiverStatus records a controller's periodic telemetry frame: updates
// the live snapshot, persists it to the durable cache, and appends it to the
// telemetry archive if one is configured.
func (d *Dispatcher) OnReceiverStatus(controllerID int64, values []uint32) {
	d.enqueue(func(ctx context.Context) {
		if cc, ok := d.controllers[controllerID]; ok {
			cc.lastReceiver = values
		}

		if d.receiverCache != nil {
			go func() {
				if err := d.receiverCache.Set(ctx, controllerID, values); err != nil {
					d.log.Warn("persisting receiver values", logger.ID("controller_id", controllerID), logger.Error(err))
				}
			}()
		}
		if d.archive != nil {
			go func() {
				if err := d.archive.AppendReceiverStatus(ctx, controllerID, values); err != nil {
					d.log.Warn("archiving receiver values", logger.ID("controller_id", controllerID), logger.Error(err))
				}
			}()
		}
	})
}

// ReceiverValues returns controllerID's last-known receiver snapshot, or
// ErrControllerNotConnected if it has no live session.
func (d *Dispatcher) ReceiverValues(ctx context.Context, controllerID int64) ([]uint32, error) {
	type result struct {
		values []uint32
		err    error
	}
	reply := make(chan result, 1)
	d.enqueue(func(ctx context.Context) {
		cc, ok := d.controllers[controllerID]
		if !ok {
			reply <- result{err: ErrControllerNotConnected}
			return
		}
		reply <- result{values: cc.lastReceiver}
	})
	select {
	case r := <-reply:
		return r.values, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) markRunningAndNotify(ctx context.Context, jobID, userID int64) {
	go func() {
		future := async.Exec(ctx, jobID, func(ctx context.Context, id int64) error {
			if err := d.store.MarkRunning(ctx, id); err != nil {
				return err
			}
			return d.notifier.NotifyJobStatus(ctx, userID, id, JobRunning)
		})
		if err := future.Await(); err != nil {
			d.log.Error("marking job running", logger.ID("job_id", jobID), logger.Error(err))
		}
	}()
}

func (d *Dispatcher) finishJobAndNotify(ctx context.Context, jobID int64, successful bool) {
	status := JobFailed
	if successful {
		status = JobSuccessful
	}
	go func() {
		future := async.Exec(ctx, jobID, func(ctx context.Context, id int64) error {
			if err := d.store.FinishJob(ctx, id, successful); err != nil {
				return err
			}
			job, err := d.store.JobByID(ctx, id)
			if err != nil {
				return err
			}
			return d.notifier.NotifyJobStatus(ctx, job.UserID, id, status)
		})
		if err := future.Await(); err != nil {
			d.log.Error("finishing job", logger.ID("job_id", jobID), logger.Error(err))
		}
	}()
}
