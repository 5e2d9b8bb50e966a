package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mwantia/vstore/backend"
	"github.com/mwantia/vstore/data"
)

func (lb *LocalBackend) CreateDirectory(ctx context.Context, path string) (*data.FolderItem, error) {
	virtual, physical := lb.resolve(path)

	info, err := lb.stat(physical)
	if err == nil {
		if info.IsDir() {
			return nil, data.NewError(data.KindDirectoryExists, "mkdir", virtual, nil)
		}
		return nil, data.NewError(data.KindFileExists, "mkdir", virtual, nil)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, mapError("mkdir", virtual, err, data.KindDirectoryNotFound)
	}

	if err := os.MkdirAll(physical, 0o755); err != nil {
		return nil, mapError("mkdir", virtual, err, data.KindDirectoryNotFound)
	}

	info, err = lb.stat(physical)
	if err != nil {
		return nil, mapError("mkdir", virtual, err, data.KindDirectoryNotFound)
	}

	return lb.toItem(virtual, physical, info).(*data.FolderItem), nil
}

func (lb *LocalBackend) RemoveDirectory(ctx context.Context, path string, recursive bool) error {
	virtual, physical := lb.resolve(path)
	if virtual == data.Separator {
		return data.NewError(data.KindInvalidPath, "rmdir", virtual, errors.New("root cannot be removed"))
	}

	info, err := lb.stat(physical)
	if err != nil {
		return mapError("rmdir", virtual, err, data.KindDirectoryNotFound)
	}
	if !info.IsDir() {
		return data.NewError(data.KindNotDirectory, "rmdir", virtual, nil)
	}

	if recursive {
		if err := os.RemoveAll(physical); err != nil {
			return mapError("rmdir", virtual, err, data.KindDirectoryNotFound)
		}
		return nil
	}

	entries, err := os.ReadDir(physical)
	if err != nil {
		return mapError("rmdir", virtual, err, data.KindDirectoryNotFound)
	}
	if len(entries) > 0 {
		return data.NewError(data.KindDirectoryNotEmpty, "rmdir", virtual, nil)
	}

	return mapError("rmdir", virtual, os.Remove(physical), data.KindDirectoryNotFound)
}

func (lb *LocalBackend) UploadFile(ctx context.Context, source data.Source, path string, opts *data.WriteOptions) (*data.FileItem, error) {
	opts = backend.Options(opts)
	virtual, physical := lb.resolve(path)
	if virtual == data.Separator {
		return nil, data.NewError(data.KindIsDirectory, "upload", virtual, nil)
	}

	if err := lb.policy.CheckExtension(virtual); err != nil {
		return nil, err
	}

	info, err := lb.stat(physical)
	if err == nil {
		if info.IsDir() {
			return nil, data.NewError(data.KindIsDirectory, "upload", virtual, nil)
		}
		if !opts.Overwrite {
			return nil, data.NewError(data.KindFileExists, "upload", virtual, nil)
		}
	}

	r, size, err := source.Open()
	if err != nil {
		return nil, data.Wrap("upload", virtual, err)
	}
	defer r.Close()

	if err := lb.policy.CheckSize(virtual, size); err != nil {
		return nil, err
	}

	dir := filepath.Dir(physical)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, mapError("upload", virtual, err, data.KindDirectoryNotFound)
	}

	if err := lb.writeAtomic(ctx, virtual, physical, r, size, opts.OnProgress); err != nil {
		return nil, data.Wrap("upload", virtual, err)
	}

	info, err = lb.stat(physical)
	if err != nil {
		return nil, mapError("upload", virtual, err, data.KindFileNotFound)
	}

	file := lb.toItem(virtual, physical, info).(*data.FileItem)
	for key, value := range opts.Metadata {
		file.Metadata[key] = value
	}

	return file, nil
}

// writeAtomic copies r into a temp file next to physical and renames it into place.
// On failure the temp file is removed and the target stays untouched.
func (lb *LocalBackend) writeAtomic(ctx context.Context, virtual, physical string, r io.Reader, size int64, fn data.ProgressFunc) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(physical), ".vstore-upload-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	reader := backend.ProgressReader(lb.policy.Limit(virtual, r), size, fn)
	if _, err = io.Copy(tmp, &contextReader{ctx: ctx, r: reader}); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), physical)
}

func (lb *LocalBackend) DownloadFile(ctx context.Context, path string, sink *data.Sink, opts *data.WriteOptions) (*data.Download, error) {
	opts = backend.Options(opts)
	virtual, physical := lb.resolve(path)

	info, err := lb.stat(physical)
	if err != nil {
		return nil, mapError("download", virtual, err, data.KindFileNotFound)
	}
	if info.IsDir() {
		return nil, data.NewError(data.KindIsDirectory, "download", virtual, nil)
	}

	f, err := os.Open(physical)
	if err != nil {
		return nil, mapError("download", virtual, err, data.KindFileNotFound)
	}
	defer f.Close()

	download := &data.Download{
		Item: lb.toItem(virtual, physical, info).(*data.FileItem),
	}
	reader := &contextReader{
		ctx: ctx,
		r:   backend.ProgressReader(f, info.Size(), opts.OnProgress),
	}

	if sink == nil {
		var buf bytes.Buffer
		buf.Grow(int(info.Size()))

		n, err := io.Copy(&buf, reader)
		if err != nil {
			return nil, data.Wrap("download", virtual, err)
		}

		download.Content = buf.Bytes()
		download.Written = n
		return download, nil
	}

	if local := sink.LocalPath(); local != "" {
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return nil, data.Wrap("download", virtual, err)
		}
	}

	w, err := sink.Open()
	if err != nil {
		return nil, data.Wrap("download", virtual, err)
	}

	n, err := io.Copy(w, reader)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, data.Wrap("download", virtual, err)
	}

	download.Written = n
	return download, nil
}

func (lb *LocalBackend) MoveItem(ctx context.Context, src, dst string, opts *data.WriteOptions) (data.Item, error) {
	return lb.move(ctx, "move", src, dst, backend.Options(opts))
}

func (lb *LocalBackend) DeleteFile(ctx context.Context, path string) error {
	virtual, physical := lb.resolve(path)

	info, err := lb.stat(physical)
	if err != nil {
		return mapError("delete", virtual, err, data.KindFileNotFound)
	}
	if info.IsDir() {
		return data.NewError(data.KindIsDirectory, "delete", virtual, nil)
	}

	return mapError("delete", virtual, os.Remove(physical), data.KindFileNotFound)
}

func (lb *LocalBackend) RenameFile(ctx context.Context, path, newName string, opts *data.WriteOptions) (*data.FileItem, error) {
	if err := data.ValidateName(newName); err != nil {
		return nil, err
	}

	virtual, physical := lb.resolve(path)
	info, err := lb.stat(physical)
	if err != nil {
		return nil, mapError("rename", virtual, err, data.KindFileNotFound)
	}
	if info.IsDir() {
		return nil, data.NewError(data.KindIsDirectory, "rename", virtual, nil)
	}

	item, err := lb.move(ctx, "rename", virtual, data.Join(data.Dir(virtual), newName), backend.Options(opts))
	if err != nil {
		return nil, err
	}

	return item.(*data.FileItem), nil
}

func (lb *LocalBackend) RenameFolder(ctx context.Context, path, newName string, opts *data.WriteOptions) (*data.FolderItem, error) {
	if err := data.ValidateName(newName); err != nil {
		return nil, err
	}

	virtual, physical := lb.resolve(path)
	if virtual == data.Separator {
		return nil, data.NewError(data.KindInvalidPath, "rename", virtual, errors.New("root cannot be renamed"))
	}

	info, err := lb.stat(physical)
	if err != nil {
		return nil, mapError("rename", virtual, err, data.KindDirectoryNotFound)
	}
	if !info.IsDir() {
		return nil, data.NewError(data.KindNotDirectory, "rename", virtual, nil)
	}

	item, err := lb.move(ctx, "rename", virtual, data.Join(data.Dir(virtual), newName), backend.Options(opts))
	if err != nil {
		return nil, err
	}

	return item.(*data.FolderItem), nil
}

// move renames src to dst. An existing destination is only replaced with Overwrite
// and only by an item of the same type.
func (lb *LocalBackend) move(ctx context.Context, op, src, dst string, opts *data.WriteOptions) (data.Item, error) {
	srcVirtual, srcPhysical := lb.resolve(src)
	dstVirtual, dstPhysical := lb.resolve(dst)

	if srcVirtual == data.Separator || dstVirtual == data.Separator {
		return nil, data.NewError(data.KindInvalidPath, op, srcVirtual, errors.New("root cannot be moved"))
	}

	srcInfo, err := lb.stat(srcPhysical)
	if err != nil {
		return nil, mapError(op, srcVirtual, err, data.KindFileNotFound)
	}
	if srcVirtual == dstVirtual {
		return lb.toItem(srcVirtual, srcPhysical, srcInfo), nil
	}
	if srcInfo.IsDir() && data.HasPathPrefix(dstVirtual, srcVirtual) {
		return nil, data.NewError(data.KindInvalidPath, op, dstVirtual, errors.New("cannot move a folder into itself"))
	}
	if data.HasPathPrefix(srcVirtual, dstVirtual) {
		return nil, data.NewError(data.KindInvalidPath, op, dstVirtual, errors.New("cannot replace an ancestor of the source"))
	}

	dstInfo, err := lb.stat(dstPhysical)
	switch {
	case err == nil:
		if !opts.Overwrite {
			if dstInfo.IsDir() {
				return nil, data.NewError(data.KindDirectoryExists, op, dstVirtual, nil)
			}
			return nil, data.NewError(data.KindFileExists, op, dstVirtual, nil)
		}
		if dstInfo.IsDir() != srcInfo.IsDir() {
			if dstInfo.IsDir() {
				return nil, data.NewError(data.KindIsDirectory, op, dstVirtual, nil)
			}
			return nil, data.NewError(data.KindNotDirectory, op, dstVirtual, nil)
		}
		// Overwrite only replaces empty folders
		if dstInfo.IsDir() {
			entries, err := os.ReadDir(dstPhysical)
			if err != nil {
				return nil, mapError(op, dstVirtual, err, data.KindDirectoryNotFound)
			}
			if len(entries) > 0 {
				return nil, data.NewError(data.KindDirectoryNotEmpty, op, dstVirtual, nil)
			}
			if err := os.Remove(dstPhysical); err != nil {
				return nil, data.Wrap(op, dstVirtual, err)
			}
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, mapError(op, dstVirtual, err, data.KindDirectoryNotFound)
	}

	if err := os.MkdirAll(filepath.Dir(dstPhysical), 0o755); err != nil {
		return nil, mapError(op, dstVirtual, err, data.KindDirectoryNotFound)
	}
	if err := os.Rename(srcPhysical, dstPhysical); err != nil {
		return nil, mapError(op, srcVirtual, err, data.KindFileNotFound)
	}

	info, err := lb.stat(dstPhysical)
	if err != nil {
		return nil, mapError(op, dstVirtual, err, data.KindFileNotFound)
	}

	return lb.toItem(dstVirtual, dstPhysical, info), nil
}

func (lb *LocalBackend) ListDirectory(ctx context.Context, path string, opts *data.ListOptions) ([]data.Item, error) {
	opts = backend.ListingOptions(opts)
	virtual, physical := lb.resolve(path)

	info, err := lb.stat(physical)
	if err != nil {
		return nil, mapError("list", virtual, err, data.KindDirectoryNotFound)
	}
	if !info.IsDir() {
		return nil, data.NewError(data.KindNotDirectory, "list", virtual, nil)
	}

	items := make([]data.Item, 0)
	if err := lb.list(ctx, virtual, physical, opts, &items); err != nil {
		return nil, err
	}

	return items, nil
}

// list appends the entries of one directory in pre-order. Pattern and filter only
// decide what is returned, recursion descends into every visible directory.
func (lb *LocalBackend) list(ctx context.Context, virtual, physical string, opts *data.ListOptions, items *[]data.Item) error {
	if err := ctx.Err(); err != nil {
		return data.Wrap("list", virtual, err)
	}

	entries, err := os.ReadDir(physical)
	if err != nil {
		return mapError("list", virtual, err, data.KindDirectoryNotFound)
	}

	children := make([]data.Item, 0, len(entries))
	for _, entry := range entries {
		if !opts.IncludeHidden && data.IsHidden(entry.Name()) {
			continue
		}

		childVirtual := data.Join(virtual, entry.Name())
		childPhysical := filepath.Join(physical, entry.Name())

		info, err := lb.stat(childPhysical)
		if err != nil {
			// Dangling symlinks and entries removed during the listing are skipped
			continue
		}
		children = append(children, lb.toItem(childVirtual, childPhysical, info))
	}

	sortItems(children)

	for _, child := range children {
		if opts.Match(child) {
			*items = append(*items, child)
		}
		if opts.Recursive && child.IsFolder() {
			childPhysical := filepath.Join(physical, child.Info().Name)
			if err := lb.list(ctx, child.Info().Path, childPhysical, opts, items); err != nil {
				return err
			}
		}
	}

	return nil
}

// sortItems orders directories first, then by name.
func sortItems(items []data.Item) {
	slices.SortFunc(items, func(a, b data.Item) int {
		if a.IsFolder() != b.IsFolder() {
			if a.IsFolder() {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Info().Name, b.Info().Name)
	})
}

func (lb *LocalBackend) GetItem(ctx context.Context, path string) (data.Item, error) {
	virtual, physical := lb.resolve(path)

	info, err := lb.stat(physical)
	if err != nil {
		return nil, mapError("stat", virtual, err, data.KindFileNotFound)
	}

	return lb.toItem(virtual, physical, info), nil
}

func (lb *LocalBackend) Exists(ctx context.Context, path string) bool {
	_, err := lb.GetItem(ctx, path)
	return err == nil
}

func (lb *LocalBackend) GetFolderTree(ctx context.Context, path string, depth int) ([]*data.TreeNode, error) {
	virtual, physical := lb.resolve(path)

	info, err := lb.stat(physical)
	if err != nil {
		return nil, mapError("tree", virtual, err, data.KindDirectoryNotFound)
	}
	if !info.IsDir() {
		return nil, data.NewError(data.KindNotDirectory, "tree", virtual, nil)
	}

	return backend.BuildFolderTree(ctx, lb, virtual, depth, 0), nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(b []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(b)
}

var _ backend.StorageBackend = (*LocalBackend)(nil)
