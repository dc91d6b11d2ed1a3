package storage

import "errors"

var (
	ErrInvalidConfig   = errors.New("invalid storage configuration")
	ErrNilFileHeader   = errors.New("nil file header")
	ErrInvalidPath     = errors.New("invalid storage path")
	ErrFailedToOpenFile = errors.New("failed to open file")

	ErrFileNotFound        = errors.New("file not found")
	ErrDirectoryNotFound   = errors.New("directory not found")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrOperationTimeout    = errors.New("storage operation timed out")
	ErrOperationCanceled   = errors.New("storage operation canceled")
	ErrAccessDenied        = errors.New("storage access denied")
	ErrRequestTimeout      = errors.New("storage request timeout")
	ErrServiceUnavailable  = errors.New("storage service unavailable")
	ErrInvalidObjectState  = errors.New("invalid object state")
	ErrPaginatorNil        = errors.New("paginator not configured")
)
