package coordinator

import "context"

// Notifier fans out a job's status change to its owning user. Implementations
// must tolerate being called twice for the same (jobID, status) pair: the
// Dispatcher does not deduplicate RunResult delivery.
type Notifier interface {
	NotifyJobStatus(ctx context.Context, userID, jobID int64, status JobStatus) error
}
