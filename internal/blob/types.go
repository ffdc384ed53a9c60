// Package blob is the entry point to blob storage. Callers depend on the Store
// interface and obtain an implementation through Open; only this package
// imports the backend packages.
package blob

import "github.com/codymaki/Bokudos-stagebuilder/internal/blob/core"

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
)

var (
	// ErrNotFound is wrapped when a key does not exist.
	ErrNotFound = core.ErrNotFound
	// ErrExists is wrapped when Put targets an existing key.
	ErrExists = core.ErrExists
)
