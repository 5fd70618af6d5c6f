// Package blob implements a content-addressed blob store: media files are
// opaque bytes stored under a server-generated id and reachable only
// through a signed URL. There is no encryption and no metadata sidecar —
// the store keeps bytes, and anything else a caller needs to know about a
// file lives in Postgres alongside the document it belongs to.
package blob

import (
	"context"
	"errors"
	"io"
	"regexp"
)

var (
	// ErrNotFound is returned when the requested blob does not exist.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidID is returned when the blob id is not safe to use as a
	// storage key.
	ErrInvalidID = errors.New("invalid blob id")
)

var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidID reports whether id is safe to use as a blob store key.
func ValidID(id string) bool {
	return id != "" && len(id) <= 128 && validID.MatchString(id)
}

// Backend is the storage interface every blob-store implementation
// satisfies.
type Backend interface {
	// Put uploads size bytes from r as the blob named id, with the given
	// content type.
	Put(ctx context.Context, id string, r io.Reader, size int64, contentType string) error

	// Get retrieves the blob named id. The caller must close the returned
	// reader.
	Get(ctx context.Context, id string) (io.ReadCloser, error)

	// Delete removes the blob named id. Deleting a non-existent id is not
	// an error.
	Delete(ctx context.Context, id string) error
}
