// Package blob re-exports core blob abstractions and selects a backend.
// Packages outside internal/blob depend on blob.Store, never on the infra
// implementations directly.
package blob

import (
	"mixinhost/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory

	// ContentTypeClass tags stored class images.
	ContentTypeClass = core.ContentTypeClass
)

var (
	// ErrNotFound is returned for missing keys.
	ErrNotFound = core.ErrNotFound
	// ErrExists is returned by create-only puts of an existing key.
	ErrExists = core.ErrExists
)

// IsNotFound reports whether err means the key is absent.
func IsNotFound(err error) bool { return core.IsNotFound(err) }
