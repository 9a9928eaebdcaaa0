// Package core defines the storage abstraction that holds class images for
// access adapters. Backends live under internal/infra/blob.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem stores images under a local directory.
	DriverFilesystem Driver = "fs" // local filesystem (default, dev)
	// DriverS3 stores images in an S3 / MinIO bucket.
	DriverS3 Driver = "s3"
	// DriverMemory keeps images in process memory.
	DriverMemory Driver = "memory" // tests, one-shot runs
)

// ContentTypeClass is the content type recorded for class images.
const ContentTypeClass = "application/x-mixinhost-class"

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string            // MIME type, optional
	Metadata    map[string]string // small, flat key-value
	// Overwrite replaces an existing blob instead of failing with ErrExists.
	Overwrite bool
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is a thin S3-like key/value blob store.
type Store interface {
	// Put stores a blob at key. Fails with ErrExists unless opts.Overwrite.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get returns the blob contents; ErrNotFound when missing.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	// Head returns metadata only; ErrNotFound when missing.
	Head(ctx context.Context, key string) (Info, error)
	// Delete removes a blob. Returns (false, nil) if not found.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns blobs under prefix ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

var (
	// ErrNotFound matches fs.ErrNotExist so callers may test either.
	ErrNotFound = fmt.Errorf("blobstore: not found: %w", fs.ErrNotExist)
	// ErrExists is returned by Put for an existing key without Overwrite.
	ErrExists = fmt.Errorf("blobstore: already exists: %w", fs.ErrExist)
)

// NotFound wraps ErrNotFound with the missing key.
func NotFound(key string) error { return fmt.Errorf("blob %s: %w", key, ErrNotFound) }

// Exists wraps ErrExists with the conflicting key.
func Exists(key string) error { return fmt.Errorf("blob %s: %w", key, ErrExists) }

// IsNotFound reports whether err means the key is absent.
func IsNotFound(err error) bool { return errors.Is(err, fs.ErrNotExist) }

// CloneMetadata copies a metadata map; nil stays nil.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
