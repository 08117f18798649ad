// Package storage provides the abstraction over durable object stores.
// Upload parts and completed objects are written through a Backend; stores
// with native multipart primitives additionally implement MultipartBackend.
package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	CacheControl string
	LastModified time.Time
	Metadata     map[string]string
}

// PutOptions carries the headers and metadata written with an object.
type PutOptions struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// Backend defines the object operations every store must provide.
type Backend interface {
	// Put writes the reader's content under key, replacing any existing object.
	// size is advisory; pass -1 when unknown. The returned ETag fingerprints
	// the stored content.
	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) (*ObjectInfo, error)

	// Get returns a reader for the whole object.
	// The caller is responsible for closing the returned ReadCloser.
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)

	// StreamRange writes bytes start..end (inclusive, 0-indexed) of the object to w.
	// Returns the number of bytes written.
	StreamRange(ctx context.Context, key string, start, end int64, w io.Writer) (int64, error)

	// Stat returns object metadata without reading content.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}

// CompletedPart identifies one uploaded part when completing a native multipart upload.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// MultipartBackend is implemented by stores with native multipart uploads.
type MultipartBackend interface {
	Backend

	// CreateMultipart starts a multipart upload for key and returns its upload ID.
	CreateMultipart(ctx context.Context, key string, opts PutOptions) (string, error)

	// UploadPart stores one part and returns its ETag.
	UploadPart(ctx context.Context, key, uploadID string, partNumber int, r io.Reader, size int64) (string, error)

	// CompleteMultipart stitches parts, which must be sorted by part number, into the final object.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []CompletedPart) (*ObjectInfo, error)

	// AbortMultipart discards an upload and all of its parts.
	AbortMultipart(ctx context.Context, key, uploadID string) error
}
