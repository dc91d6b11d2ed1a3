package coordinator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwrig/testbed/coordinator"
)

type fakeStore struct {
	mu sync.Mutex

	jobs map[int64]*coordinator.Job
	next map[int64]int64 // controllerID -> jobID to hand out next, 0 for none
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[int64]*coordinator.Job{}, next: map[int64]int64{}}
}

func (f *fakeStore) NextPendingJob(_ context.Context, controllerID int64) (*coordinator.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jobID := f.next[controllerID]
	if jobID == 0 {
		return nil, nil
	}
	delete(f.next, controllerID)
	job := *f.jobs[jobID]
	return &job, nil
}

func (f *fakeStore) MarkRunning(_ context.Context, jobID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].Status = coordinator.JobRunning
	return nil
}

func (f *fakeStore) FinishJob(_ context.Context, jobID int64, successful bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if successful {
		f.jobs[jobID].Status = coordinator.JobSuccessful
	} else {
		f.jobs[jobID].Status = coordinator.JobFailed
	}
	return nil
}

func (f *fakeStore) JobByID(_ context.Context, jobID int64) (*coordinator.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, coordinator.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeStore) AbortPending(_ context.Context, jobID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].Status = coordinator.JobFailed
	return nil
}

func (f *fakeStore) AbortRunning(_ context.Context, jobID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.Status = coordinator.JobFailed
	return job.ControllerID, nil
}

func (f *fakeStore) addJob(job coordinator.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = &job
}

func (f *fakeStore) queue(controllerID, jobID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next[controllerID] = jobID
}

func (f *fakeStore) status(jobID int64) coordinator.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[jobID].Status
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []coordinator.JobStatus
}

func (f *fakeNotifier) NotifyJobStatus(_ context.Context, _, _ int64, status coordinator.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, status)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeOutbound struct {
	mu         sync.Mutex
	runs       []int64
	aborts     []int64
	sendRunErr error
}

func (f *fakeOutbound) SendRunExperiment(jobID int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendRunErr != nil {
		return f.sendRunErr
	}
	f.runs = append(f.runs, jobID)
	return nil
}

func (f *fakeOutbound) SendAbortRunningJob(jobID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts = append(f.aborts, jobID)
	return nil
}

func (f *fakeOutbound) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func newDispatcherUnderTest(t *testing.T, store coordinator.Store, notifier coordinator.Notifier) *coordinator.Dispatcher {
	t.Helper()
	d := coordinator.New(store, notifier, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Serve(ctx)
	return d
}

func TestDispatcher_JoinThenRun(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addJob(coordinator.Job{ID: 1, UserID: 9, ControllerID: 100, Code: "print(1)", Status: coordinator.JobPending})
	notifier := &fakeNotifier{}
	d := newDispatcherUnderTest(t, store, notifier)

	out := &fakeOutbound{}
	ctx := context.Background()
	d.Join(ctx, 100, coordinator.IdleState, out)

	require.NoError(t, d.Run(ctx, coordinator.RunExperimentRequest{ControllerID: 100, JobID: 1, UserID: 9, Code: "print(1)"}))

	assert.Eventually(t, func() bool { return out.runCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return store.status(1) == coordinator.JobRunning }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_RunRejectsUnknownController(t *testing.T) {
	t.Parallel()

	d := newDispatcherUnderTest(t, newFakeStore(), &fakeNotifier{})
	err := d.Run(context.Background(), coordinator.RunExperimentRequest{ControllerID: 404, JobID: 1})
	assert.ErrorIs(t, err, coordinator.ErrControllerNotConnected)
}

func TestDispatcher_RunRejectsAlreadyRunning(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addJob(coordinator.Job{ID: 1, ControllerID: 100, Status: coordinator.JobPending})
	d := newDispatcherUnderTest(t, store, &fakeNotifier{})

	ctx := context.Background()
	d.Join(ctx, 100, coordinator.Running(5), &fakeOutbound{})

	err := d.Run(ctx, coordinator.RunExperimentRequest{ControllerID: 100, JobID: 1})
	assert.ErrorIs(t, err, coordinator.ErrAlreadyRunning)
}

func TestDispatcher_AutoSchedulesQueuedJobOnJoin(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addJob(coordinator.Job{ID: 2, ControllerID: 100, Code: "x", Status: coordinator.JobPending})
	store.queue(100, 2)
	d := newDispatcherUnderTest(t, store, &fakeNotifier{})

	out := &fakeOutbound{}
	d.Join(context.Background(), 100, coordinator.IdleState, out)

	assert.Eventually(t, func() bool { return out.runCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_OnResultFinishesJobAndSchedulesNext(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addJob(coordinator.Job{ID: 1, ControllerID: 100, Status: coordinator.JobRunning})
	store.addJob(coordinator.Job{ID: 2, ControllerID: 100, Code: "y", Status: coordinator.JobPending})
	notifier := &fakeNotifier{}
	d := newDispatcherUnderTest(t, store, notifier)

	out := &fakeOutbound{}
	ctx := context.Background()
	d.Join(ctx, 100, coordinator.Running(1), out)
	store.queue(100, 2)

	d.OnResult(100, 1, true)

	assert.Eventually(t, func() bool { return store.status(1) == coordinator.JobSuccessful }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return out.runCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_AbortPendingJob(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addJob(coordinator.Job{ID: 3, Status: coordinator.JobPending})
	d := newDispatcherUnderTest(t, store, &fakeNotifier{})

	require.NoError(t, d.Abort(context.Background(), 3))
	assert.Equal(t, coordinator.JobFailed, store.status(3))
}

func TestDispatcher_AbortRunningJobNotifiesController(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addJob(coordinator.Job{ID: 4, ControllerID: 100, Status: coordinator.JobRunning})
	d := newDispatcherUnderTest(t, store, &fakeNotifier{})

	out := &fakeOutbound{}
	ctx := context.Background()
	d.Join(ctx, 100, coordinator.Running(4), out)

	require.NoError(t, d.Abort(ctx, 4))
	assert.Equal(t, coordinator.JobFailed, store.status(4))
	assert.Eventually(t, func() bool {
		out.mu.Lock()
		defer out.mu.Unlock()
		return len(out.aborts) == 1 && out.aborts[0] == 4
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_AbortTerminalJobFails(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addJob(coordinator.Job{ID: 5, Status: coordinator.JobSuccessful})
	d := newDispatcherUnderTest(t, store, &fakeNotifier{})

	err := d.Abort(context.Background(), 5)
	assert.ErrorIs(t, err, coordinator.ErrInvalidOperationForStatus)
}

func TestDispatcher_RunSendFailureRevertsToIdleAndFailsJob(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addJob(coordinator.Job{ID: 6, ControllerID: 100, Code: "z", Status: coordinator.JobPending})
	d := newDispatcherUnderTest(t, store, &fakeNotifier{})

	out := &fakeOutbound{sendRunErr: assert.AnError}
	ctx := context.Background()
	d.Join(ctx, 100, coordinator.IdleState, out)

	require.NoError(t, d.Run(ctx, coordinator.RunExperimentRequest{ControllerID: 100, JobID: 6, Code: "z"}))

	assert.Eventually(t, func() bool { return store.status(6) == coordinator.JobFailed }, time.Second, 5*time.Millisecond)

	// controller must be back to Idle and able to accept another run
	store.addJob(coordinator.Job{ID: 7, ControllerID: 100, Code: "w", Status: coordinator.JobPending})
	require.Eventually(t, func() bool {
		return d.Run(ctx, coordinator.RunExperimentRequest{ControllerID: 100, JobID: 7, Code: "w"}) == nil
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_ReceiverValuesRequiresLiveSession(t *testing.T) {
	t.Parallel()

	d := newDispatcherUnderTest(t, newFakeStore(), &fakeNotifier{})
	_, err := d.ReceiverValues(context.Background(), 999)
	assert.ErrorIs(t, err, coordinator.ErrControllerNotConnected)
}

func TestDispatcher_OnReceiverStatusUpdatesLiveSnapshot(t *testing.T) {
	t.Parallel()

	d := newDispatcherUnderTest(t, newFakeStore(), &fakeNotifier{})
	ctx := context.Background()
	d.Join(ctx, 100, coordinator.IdleState, &fakeOutbound{})

	d.OnReceiverStatus(100, []uint32{1, 2, 3})

	assert.Eventually(t, func() bool {
		values, err := d.ReceiverValues(ctx, 100)
		return err == nil && len(values) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_DisconnectLeavesRunningJobInPlace(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addJob(coordinator.Job{ID: 8, ControllerID: 100, Status: coordinator.JobRunning})
	d := newDispatcherUnderTest(t, store, &fakeNotifier{})

	ctx := context.Background()
	d.Join(ctx, 100, coordinator.Running(8), &fakeOutbound{})
	d.Disconnect(100)

	assert.Eventually(t, func() bool {
		_, err := d.ReceiverValues(ctx, 100)
		return err == coordinator.ErrControllerNotConnected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, coordinator.JobRunning, store.status(8))
}
