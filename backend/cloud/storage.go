package cloud

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"

	"github.com/mwantia/vstore/backend"
	"github.com/mwantia/vstore/data"
)

func (cb *CloudBackend) CreateDirectory(ctx context.Context, path string) (*data.FolderItem, error) {
	virtual := data.Normalize(path)
	if virtual == data.Separator {
		return nil, data.NewError(data.KindDirectoryExists, "mkdir", virtual, nil)
	}

	service, err := cb.getService()
	if err != nil {
		return nil, err
	}

	parent, err := cb.resolveFolder(ctx, service, "mkdir", data.Dir(virtual), true)
	if err != nil {
		return nil, err
	}

	existing, err := cb.findChild(ctx, service, parent.ID, data.Base(virtual))
	if err != nil {
		return nil, mapError("mkdir", virtual, err, data.KindDirectoryNotFound)
	}
	if existing != nil {
		if existing.isFolder() {
			return nil, data.NewError(data.KindDirectoryExists, "mkdir", virtual, nil)
		}
		return nil, data.NewError(data.KindFileExists, "mkdir", virtual, nil)
	}

	folder, err := service.CreateFolder(ctx, parent.ID, data.Base(virtual))
	if err != nil {
		return nil, mapError("mkdir", virtual, err, data.KindDirectoryNotFound)
	}

	return cb.toItem(virtual, folder).(*data.FolderItem), nil
}

func (cb *CloudBackend) RemoveDirectory(ctx context.Context, path string, recursive bool) error {
	virtual := data.Normalize(path)
	if virtual == data.Separator {
		return data.NewError(data.KindInvalidPath, "rmdir", virtual, errors.New("root cannot be removed"))
	}

	service, err := cb.getService()
	if err != nil {
		return err
	}

	folder, err := cb.resolveFolder(ctx, service, "rmdir", virtual, false)
	if err != nil {
		return err
	}

	if !recursive {
		children, _, err := service.List(ctx, listQuery{ParentID: folder.ID}, "")
		if err != nil {
			return mapError("rmdir", virtual, err, data.KindDirectoryNotFound)
		}
		if len(children) > 0 {
			return data.NewError(data.KindDirectoryNotEmpty, "rmdir", virtual, nil)
		}
	}

	// Deleting a folder removes all descendants
	return mapError("rmdir", virtual, service.Delete(ctx, folder.ID), data.KindDirectoryNotFound)
}

func (cb *CloudBackend) UploadFile(ctx context.Context, source data.Source, path string, opts *data.WriteOptions) (*data.FileItem, error) {
	opts = backend.Options(opts)
	virtual := data.Normalize(path)
	if virtual == data.Separator {
		return nil, data.NewError(data.KindIsDirectory, "upload", virtual, nil)
	}

	if err := cb.policy.CheckExtension(virtual); err != nil {
		return nil, err
	}

	service, err := cb.getService()
	if err != nil {
		return nil, err
	}

	r, size, err := source.Open()
	if err != nil {
		return nil, data.Wrap("upload", virtual, err)
	}
	defer r.Close()

	if err := cb.policy.CheckSize(virtual, size); err != nil {
		return nil, err
	}

	parent, err := cb.resolveFolder(ctx, service, "upload", data.Dir(virtual), true)
	if err != nil {
		return nil, err
	}

	existing, err := cb.findChild(ctx, service, parent.ID, data.Base(virtual))
	if err != nil {
		return nil, mapError("upload", virtual, err, data.KindDirectoryNotFound)
	}
	if existing != nil {
		if existing.isFolder() {
			return nil, data.NewError(data.KindIsDirectory, "upload", virtual, nil)
		}
		if !opts.Overwrite {
			return nil, data.NewError(data.KindFileExists, "upload", virtual, nil)
		}
	}

	buffered := bufio.NewReaderSize(backend.ProgressReader(cb.policy.Limit(virtual, r), size, opts.OnProgress), 512)
	head, _ := buffered.Peek(512)
	mimeType := data.DetectContentType(virtual, head)

	var uploaded *remoteFile
	if existing != nil {
		uploaded, err = service.Replace(ctx, existing.ID, mimeType, buffered)
	} else {
		uploaded, err = service.Upload(ctx, parent.ID, data.Base(virtual), mimeType, buffered)
	}
	if err != nil {
		return nil, mapError("upload", virtual, err, data.KindDirectoryNotFound)
	}

	file := cb.toItem(virtual, uploaded).(*data.FileItem)
	for key, value := range opts.Metadata {
		file.Metadata[key] = value
	}

	return file, nil
}

func (cb *CloudBackend) DownloadFile(ctx context.Context, path string, sink *data.Sink, opts *data.WriteOptions) (*data.Download, error) {
	opts = backend.Options(opts)
	virtual := data.Normalize(path)

	service, err := cb.getService()
	if err != nil {
		return nil, err
	}

	f, err := cb.resolve(ctx, service, "download", virtual, false, data.KindFileNotFound)
	if err != nil {
		return nil, err
	}
	if f.isFolder() {
		return nil, data.NewError(data.KindIsDirectory, "download", virtual, nil)
	}

	body, err := service.Download(ctx, f.ID)
	if err != nil {
		return nil, mapError("download", virtual, err, data.KindFileNotFound)
	}
	defer body.Close()

	download := &data.Download{
		Item: cb.toItem(virtual, f).(*data.FileItem),
	}
	reader := backend.ProgressReader(body, f.Size, opts.OnProgress)

	if sink == nil {
		var buf bytes.Buffer
		n, err := io.Copy(&buf, reader)
		if err != nil {
			return nil, mapError("download", virtual, err, data.KindFileNotFound)
		}

		download.Content = buf.Bytes()
		download.Written = n
		return download, nil
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
		return nil, mapError("download", virtual, err, data.KindFileNotFound)
	}

	download.Written = n
	return download, nil
}

func (cb *CloudBackend) MoveItem(ctx context.Context, src, dst string, opts *data.WriteOptions) (data.Item, error) {
	service, err := cb.getService()
	if err != nil {
		return nil, err
	}

	srcVirtual := data.Normalize(src)
	f, err := cb.resolve(ctx, service, "move", srcVirtual, false, data.KindFileNotFound)
	if err != nil {
		return nil, err
	}

	return cb.move(ctx, service, "move", srcVirtual, data.Normalize(dst), f, backend.Options(opts))
}

func (cb *CloudBackend) DeleteFile(ctx context.Context, path string) error {
	virtual := data.Normalize(path)

	service, err := cb.getService()
	if err != nil {
		return err
	}

	f, err := cb.resolve(ctx, service, "delete", virtual, false, data.KindFileNotFound)
	if err != nil {
		return err
	}
	if f.isFolder() {
		return data.NewError(data.KindIsDirectory, "delete", virtual, nil)
	}

	return mapError("delete", virtual, service.Delete(ctx, f.ID), data.KindFileNotFound)
}

func (cb *CloudBackend) RenameFile(ctx context.Context, path, newName string, opts *data.WriteOptions) (*data.FileItem, error) {
	if err := data.ValidateName(newName); err != nil {
		return nil, err
	}

	service, err := cb.getService()
	if err != nil {
		return nil, err
	}

	virtual := data.Normalize(path)
	f, err := cb.resolve(ctx, service, "rename", virtual, false, data.KindFileNotFound)
	if err != nil {
		return nil, err
	}
	if f.isFolder() {
		return nil, data.NewError(data.KindIsDirectory, "rename", virtual, nil)
	}

	item, err := cb.move(ctx, service, "rename", virtual, data.Join(data.Dir(virtual), newName), f, backend.Options(opts))
	if err != nil {
		return nil, err
	}

	return item.(*data.FileItem), nil
}

func (cb *CloudBackend) RenameFolder(ctx context.Context, path, newName string, opts *data.WriteOptions) (*data.FolderItem, error) {
	if err := data.ValidateName(newName); err != nil {
		return nil, err
	}

	service, err := cb.getService()
	if err != nil {
		return nil, err
	}

	virtual := data.Normalize(path)
	f, err := cb.resolveFolder(ctx, service, "rename", virtual, false)
	if err != nil {
		return nil, err
	}

	item, err := cb.move(ctx, service, "rename", virtual, data.Join(data.Dir(virtual), newName), f, backend.Options(opts))
	if err != nil {
		return nil, err
	}

	return item.(*data.FolderItem), nil
}

// move renames and reparents f with a single update call.
func (cb *CloudBackend) move(ctx context.Context, service itemService, op, srcVirtual, dstVirtual string, f *remoteFile, opts *data.WriteOptions) (data.Item, error) {
	if srcVirtual == data.Separator || dstVirtual == data.Separator {
		return nil, data.NewError(data.KindInvalidPath, op, srcVirtual, errors.New("root cannot be moved"))
	}
	if srcVirtual == dstVirtual {
		return cb.toItem(srcVirtual, f), nil
	}
	if f.isFolder() && data.HasPathPrefix(dstVirtual, srcVirtual) {
		return nil, data.NewError(data.KindInvalidPath, op, dstVirtual, errors.New("cannot move a folder into itself"))
	}
	if data.HasPathPrefix(srcVirtual, dstVirtual) {
		return nil, data.NewError(data.KindInvalidPath, op, dstVirtual, errors.New("cannot replace an ancestor of the source"))
	}

	parent, err := cb.resolveFolder(ctx, service, op, data.Dir(dstVirtual), true)
	if err != nil {
		return nil, err
	}

	existing, err := cb.findChild(ctx, service, parent.ID, data.Base(dstVirtual))
	if err != nil {
		return nil, mapError(op, dstVirtual, err, data.KindDirectoryNotFound)
	}
	if existing != nil && existing.ID != f.ID {
		if !opts.Overwrite {
			if existing.isFolder() {
				return nil, data.NewError(data.KindDirectoryExists, op, dstVirtual, nil)
			}
			return nil, data.NewError(data.KindFileExists, op, dstVirtual, nil)
		}
		if existing.isFolder() != f.isFolder() {
			if existing.isFolder() {
				return nil, data.NewError(data.KindIsDirectory, op, dstVirtual, nil)
			}
			return nil, data.NewError(data.KindNotDirectory, op, dstVirtual, nil)
		}
		// Overwrite only replaces empty folders
		if existing.isFolder() {
			children, _, err := service.List(ctx, listQuery{ParentID: existing.ID}, "")
			if err != nil {
				return nil, mapError(op, dstVirtual, err, data.KindDirectoryNotFound)
			}
			if len(children) > 0 {
				return nil, data.NewError(data.KindDirectoryNotEmpty, op, dstVirtual, nil)
			}
		}
		if err := service.Delete(ctx, existing.ID); err != nil {
			return nil, mapError(op, dstVirtual, err, data.KindFileNotFound)
		}
	}

	addParents, removeParents := "", ""
	if !slices.Contains(f.Parents, parent.ID) {
		addParents = parent.ID
		removeParents = strings.Join(f.Parents, ",")
	}

	updated, err := service.Update(ctx, f.ID, data.Base(dstVirtual), addParents, removeParents)
	if err != nil {
		return nil, mapError(op, srcVirtual, err, data.KindFileNotFound)
	}

	return cb.toItem(dstVirtual, updated), nil
}

func (cb *CloudBackend) ListDirectory(ctx context.Context, path string, opts *data.ListOptions) ([]data.Item, error) {
	opts = backend.ListingOptions(opts)
	virtual := data.Normalize(path)

	service, err := cb.getService()
	if err != nil {
		return nil, err
	}

	folder, err := cb.resolveFolder(ctx, service, "list", virtual, false)
	if err != nil {
		return nil, err
	}

	items := make([]data.Item, 0)
	if err := cb.list(ctx, service, virtual, folder.ID, opts, &items); err != nil {
		return nil, err
	}

	return items, nil
}

func (cb *CloudBackend) list(ctx context.Context, service itemService, virtual, folderID string, opts *data.ListOptions, items *[]data.Item) error {
	files, err := cb.listAll(ctx, service, listQuery{ParentID: folderID})
	if err != nil {
		return mapError("list", virtual, err, data.KindDirectoryNotFound)
	}

	children := make([]data.Item, 0, len(files))
	for _, f := range files {
		if !opts.IncludeHidden && data.IsHidden(f.Name) {
			continue
		}
		children = append(children, cb.toItem(data.Join(virtual, f.Name), f))
	}

	sortItems(children)

	for _, child := range children {
		if opts.Match(child) {
			*items = append(*items, child)
		}
		if opts.Recursive && child.IsFolder() {
			info := child.Info()
			if err := cb.list(ctx, service, info.Path, info.ID, opts, items); err != nil {
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

func (cb *CloudBackend) GetItem(ctx context.Context, path string) (data.Item, error) {
	virtual := data.Normalize(path)

	service, err := cb.getService()
	if err != nil {
		return nil, err
	}

	f, err := cb.resolve(ctx, service, "stat", virtual, false, data.KindFileNotFound)
	if err != nil {
		return nil, err
	}

	return cb.toItem(virtual, f), nil
}

func (cb *CloudBackend) Exists(ctx context.Context, path string) bool {
	_, err := cb.GetItem(ctx, path)
	return err == nil
}

var _ backend.StorageBackend = (*CloudBackend)(nil)
