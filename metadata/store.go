// Package metadata defines the metadata record model and the RecordStore boundary
// implemented by the memory, sqlite, postgres and consul providers.
package metadata

import (
	"context"
	"errors"
)

var (
	ErrRecordNotFound = errors.New("vstore: metadata record not found")
	ErrRecordExists   = errors.New("vstore: metadata record already exists")
	ErrStoreClosed    = errors.New("vstore: metadata store closed")

	// ErrMigrationRequired is returned for refs and lifecycle changes on a generation 1 schema.
	ErrMigrationRequired = errors.New("vstore: metadata store requires migration to generation 2")
)

// Generation identifies the schema revision a store operates on.
type Generation int

const (
	// Generation1 holds identity, file_data and timestamps only.
	Generation1 Generation = 1
	// Generation2 adds hash, size, refs and lifecycle columns.
	Generation2 Generation = 2
)

// RecordStore persists metadata records, unique on (FilePath, StorageType).
type RecordStore interface {
	Name() string

	Open(ctx context.Context) error

	Close(ctx context.Context) error

	// Generation reports the schema generation currently in use.
	Generation() Generation

	// Migrate upgrades the schema to the latest generation. Running it again is a no-op.
	Migrate(ctx context.Context) error

	Insert(ctx context.Context, record *Record) error

	Get(ctx context.Context, path, storageType string) (*Record, error)

	GetByID(ctx context.Context, id string) (*Record, error)

	Update(ctx context.Context, record *Record) error

	Delete(ctx context.Context, id string) error

	Query(ctx context.Context, query *RecordQuery) ([]*Record, error)
}
