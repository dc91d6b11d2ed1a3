package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	intstorage "github.com/hwrig/testbed/integration/storage/s3"
	"github.com/hwrig/testbed/core/storage"
)

// outputObjectName is the fixed filename under each job's prefix.
const outputObjectName = "output.txt"

// S3Store persists job output blobs to an S3 bucket, one object per job
// under "<jobID>/output.txt". It adapts the generic core/storage.Storage
// interface to the single-write, keyed-by-id Store contract.
type S3Store struct {
	backend *intstorage.S3Storage
}

// NewS3Store wraps an already-configured S3 storage backend.
func NewS3Store(backend *intstorage.S3Storage) *S3Store {
	return &S3Store{backend: backend}
}

func jobPath(jobID int64) string {
	return strconv.FormatInt(jobID, 10) + "/" + outputObjectName
}

// Put stores data as jobID's output, refusing to overwrite an existing
// upload since every job writes its output exactly once.
func (s *S3Store) Put(ctx context.Context, jobID int64, data []byte) error {
	path := jobPath(jobID)

	if s.backend.Exists(ctx, path) {
		return ErrAlreadyUploaded
	}

	fh, err := fileHeaderFromBytes(outputObjectName, data)
	if err != nil {
		return fmt.Errorf("storage: build upload: %w", err)
	}

	if _, err := s.backend.Save(ctx, fh, path); err != nil {
		return classifyError(err)
	}
	return nil
}

// Get retrieves jobID's stored output. The generic Storage interface has
// no read method, so this reads the object back over HTTP via its public
// URL, which is how every S3Storage-backed bucket in this deployment is
// configured (public-read or fronted by a CDN).
func (s *S3Store) Get(ctx context.Context, jobID int64) ([]byte, error) {
	path := jobPath(jobID)

	if !s.backend.Exists(ctx, path) {
		return nil, ErrNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.backend.URL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("storage: build download request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: download returned status %d", resp.StatusCode)
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("storage: read download body: %w", err)
	}
	return buf.Bytes(), nil
}

// fileHeaderFromBytes builds a *multipart.FileHeader backed by in-memory
// content, so Store.Put's []byte payload can flow through the
// multipart-oriented core/storage.Storage.Save signature.
func fileHeaderFromBytes(filename string, data []byte) (*multipart.FileHeader, error) {
	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	r := multipart.NewReader(body, w.Boundary())
	form, err := r.ReadForm(int64(len(data)) + 1024)
	if err != nil {
		return nil, err
	}
	files := form.File["file"]
	if len(files) == 0 {
		return nil, fmt.Errorf("storage: no file part produced")
	}
	return files[0], nil
}

func classifyError(err error) error {
	switch {
	case errors.Is(err, storage.ErrOperationTimeout):
		return fmt.Errorf("%w: %v", ErrOperationTimeout, err)
	case errors.Is(err, storage.ErrOperationCanceled):
		return fmt.Errorf("%w: %v", ErrOperationCanceled, err)
	case errors.Is(err, storage.ErrAccessDenied):
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	case errors.Is(err, storage.ErrServiceUnavailable), errors.Is(err, storage.ErrRequestTimeout):
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	case errors.Is(err, storage.ErrFileNotFound), errors.Is(err, storage.ErrBucketNotFound):
		return ErrNotFound
	default:
		return err
	}
}
