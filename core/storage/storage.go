// Package storage provides a file storage abstraction backed by cloud object
// stores. It offers a single Storage interface that upload destinations
// (S3 and S3-compatible services) implement, decoupling callers from any
// particular provider's SDK.
package storage

import (
	"context"
	"mime/multipart"
)

// Storage abstracts file persistence for an object-store-backed provider.
type Storage interface {
	// Save uploads the file at the given path and returns its metadata.
	Save(ctx context.Context, fh *multipart.FileHeader, path string) (*File, error)
	// Delete removes a single object at path.
	Delete(ctx context.Context, path string) error
	// DeleteDir removes every object under the dir prefix.
	DeleteDir(ctx context.Context, dir string) error
	// Exists reports whether an object exists at path.
	Exists(ctx context.Context, path string) bool
	// List returns the immediate (non-recursive) entries under dir.
	List(ctx context.Context, dir string) ([]Entry, error)
	// URL returns the public URL for a stored path.
	URL(path string) string
}

// File describes a successfully stored object.
type File struct {
	Filename     string
	Size         int64
	MIMEType     string
	Extension    string
	AbsolutePath string
	RelativePath string
}

// Entry describes a single listed object or "directory" prefix.
type Entry struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64
}
