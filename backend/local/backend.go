// Package local implements the storage backend on a directory of the local filesystem.
package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/mwantia/vstore/backend"
	"github.com/mwantia/vstore/data"
)

// Config contains the settings of the local backend.
type Config struct {
	// Root directory all virtual paths are resolved against
	Root string `mapstructure:"root" validate:"required"`

	backend.WritePolicy `mapstructure:",squash"`
}

// LocalBackend maps virtual paths onto a root directory. Item ids are the normalized
// virtual paths.
type LocalBackend struct {
	root   string
	policy backend.WritePolicy
}

func NewLocalBackend(config *Config) (*LocalBackend, error) {
	if config == nil || config.Root == "" {
		return nil, data.NewError(data.KindConfiguration, "init", "", errors.New("local root directory is required"))
	}

	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, data.NewError(data.KindConfiguration, "init", config.Root, err)
	}

	return &LocalBackend{
		root:   filepath.Clean(root),
		policy: config.WritePolicy,
	}, nil
}

// Name returns the identifier name defined for this backend
func (*LocalBackend) Name() string {
	return "local"
}

// Root returns the physical root directory.
func (lb *LocalBackend) Root() string {
	return lb.root
}

// Open creates the root directory if it does not exist yet.
func (lb *LocalBackend) Open(ctx context.Context) error {
	info, err := os.Stat(lb.root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return data.NewError(data.KindConfiguration, "open", lb.root, err)
		}
		if err := os.MkdirAll(lb.root, 0o755); err != nil {
			return data.NewError(data.KindConfiguration, "open", lb.root, err)
		}
		return nil
	}

	// Ensure the root is a directory
	if !info.IsDir() {
		return data.NewError(data.KindConfiguration, "open", lb.root, errors.New("root is not a directory"))
	}

	return nil
}

// Close is part of the lifecycle behaviour, the filesystem persists independently.
func (lb *LocalBackend) Close(ctx context.Context) error {
	return nil
}

func (lb *LocalBackend) Capabilities() *backend.Capabilities {
	return &backend.Capabilities{
		Capabilities: []backend.Capability{
			backend.CapabilityNativeMove,
			backend.CapabilityStreaming,
			backend.CapabilityDirectories,
		},
		MaxObjectSize: lb.policy.MaxFileSize,
	}
}

// resolve normalizes p and returns the virtual and the physical path.
func (lb *LocalBackend) resolve(p string) (string, string) {
	virtual := data.Normalize(p)
	return virtual, filepath.Join(lb.root, filepath.FromSlash(data.ToRelativePath(virtual)))
}

// stat follows symlinks so that linked directories list as directories.
func (lb *LocalBackend) stat(physical string) (os.FileInfo, error) {
	return os.Stat(physical)
}

// toItem converts file info of the physical path into an item at virtual.
func (lb *LocalBackend) toItem(virtual, physical string, info os.FileInfo) data.Item {
	modified := info.ModTime().UTC()

	if info.IsDir() {
		folder := data.NewFolderItem(virtual, virtual, modified)
		if virtual != data.Separator {
			folder.ParentID = data.Dir(virtual)
		}
		return folder
	}

	file := data.NewFileItem(virtual, virtual, info.Size(), detectContentType(virtual, physical), modified)
	file.ParentID = data.Dir(virtual)
	return file
}

// detectContentType uses the extension table and sniffs the file head for unknown extensions.
func detectContentType(virtual, physical string) string {
	if mimeType, ok := data.ExtensionToMIME[data.Ext(virtual)]; ok {
		return string(mimeType)
	}

	f, err := os.Open(physical)
	if err != nil {
		return string(data.ContentTypeApplicationStream)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	return data.DetectContentType(virtual, head[:n])
}

// mapError converts filesystem errors into typed errors. notFound is the kind used for missing paths.
func mapError(op, virtual string, err error, notFound data.ErrorKind) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return data.NewError(notFound, op, virtual, nil)
	case errors.Is(err, fs.ErrExist):
		return data.NewError(data.KindFileExists, op, virtual, nil)
	case errors.Is(err, syscall.ENOTDIR):
		return data.NewError(data.KindNotDirectory, op, virtual, nil)
	case errors.Is(err, syscall.EISDIR):
		return data.NewError(data.KindIsDirectory, op, virtual, nil)
	case errors.Is(err, syscall.ENOTEMPTY):
		return data.NewError(data.KindDirectoryNotEmpty, op, virtual, nil)
	}

	return data.Wrap(op, virtual, err)
}
