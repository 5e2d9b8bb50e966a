// Package backend defines the storage contract shared by the local, cloud and s3
// backends, plus helpers they compose: the write policy, progress reporting and the
// default folder tree builder.
package backend

import (
	"context"

	"github.com/mwantia/vstore/data"
)

// Backend is used as lifecycle entrypoint for storage implementations.
type Backend interface {
	// Name returns the storage type recorded in metadata, e.g. "local"
	Name() string
	// Open validates the configuration and connects the backend.
	Open(ctx context.Context) error
	// Close releases held resources.
	Close(ctx context.Context) error

	// Capabilities describes optional behaviour of this backend.
	Capabilities() *Capabilities
}

// StorageBackend performs I/O against one physical storage medium addressed by virtual paths.
// Every method normalizes its paths before any I/O and reports expected failures as *data.Error.
type StorageBackend interface {
	Backend

	CreateDirectory(ctx context.Context, path string) (*data.FolderItem, error)

	RemoveDirectory(ctx context.Context, path string, recursive bool) error

	UploadFile(ctx context.Context, source data.Source, path string, opts *data.WriteOptions) (*data.FileItem, error)

	// DownloadFile writes the content into sink, or returns it in Download.Content when sink is nil.
	DownloadFile(ctx context.Context, path string, sink *data.Sink, opts *data.WriteOptions) (*data.Download, error)

	MoveItem(ctx context.Context, src, dst string, opts *data.WriteOptions) (data.Item, error)

	DeleteFile(ctx context.Context, path string) error

	RenameFile(ctx context.Context, path, newName string, opts *data.WriteOptions) (*data.FileItem, error)

	RenameFolder(ctx context.Context, path, newName string, opts *data.WriteOptions) (*data.FolderItem, error)

	ListDirectory(ctx context.Context, path string, opts *data.ListOptions) ([]data.Item, error)

	GetItem(ctx context.Context, path string) (data.Item, error)

	// Exists reports false for any failure.
	Exists(ctx context.Context, path string) bool

	GetFolderTree(ctx context.Context, path string, depth int) ([]*data.TreeNode, error)
}
