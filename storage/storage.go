// Package storage defines the durable home for a job's uploaded output
// blob: a single write, read many times, keyed by job id.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrAlreadyUploaded is returned by Put when output for a job has
	// already been stored; a job's output is written at most once.
	ErrAlreadyUploaded = errors.New("storage: output already uploaded")
	ErrNotFound        = errors.New("storage: output not found")

	ErrOperationTimeout   = errors.New("storage: operation timed out")
	ErrOperationCanceled  = errors.New("storage: operation canceled")
	ErrAccessDenied       = errors.New("storage: access denied")
	ErrServiceUnavailable = errors.New("storage: service unavailable")
)

// Store is the durable home for job output.
type Store interface {
	// Put stores data as jobID's output. ErrAlreadyUploaded if output for
	// this job already exists.
	Put(ctx context.Context, jobID int64, data []byte) error
	// Get retrieves jobID's stored output, or ErrNotFound.
	Get(ctx context.Context, jobID int64) ([]byte, error)
}
