package s3

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/mwantia/vstore/backend"
	"github.com/mwantia/vstore/data"
)

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// stat resolves virtual as file object, directory marker or implicit directory.
func (sb *S3Backend) stat(ctx context.Context, op, virtual string, notFound data.ErrorKind) (minio.ObjectInfo, error) {
	if virtual == data.Separator {
		return minio.ObjectInfo{
			Key:         sb.prefix,
			ContentType: string(data.ContentTypeDirectory),
		}, nil
	}

	info, err := sb.client.StatObject(ctx, sb.bucketName, sb.objectKey(virtual), minio.StatObjectOptions{})
	if err == nil {
		return info, nil
	}
	if !isNoSuchKey(err) {
		return minio.ObjectInfo{}, mapError(op, virtual, err, notFound)
	}

	prefix := sb.dirPrefix(virtual)
	info, err = sb.client.StatObject(ctx, sb.bucketName, prefix, minio.StatObjectOptions{})
	if err == nil {
		return info, nil
	}
	if !isNoSuchKey(err) {
		return minio.ObjectInfo{}, mapError(op, virtual, err, notFound)
	}

	// Keys below the path without a marker still form a directory
	objects, err := sb.listObjects(ctx, prefix, true, 1)
	if err != nil {
		return minio.ObjectInfo{}, mapError(op, virtual, err, notFound)
	}
	if len(objects) == 0 {
		return minio.ObjectInfo{}, data.NewError(notFound, op, virtual, nil)
	}

	return minio.ObjectInfo{
		Key:          prefix,
		ContentType:  string(data.ContentTypeDirectory),
		LastModified: objects[0].LastModified,
	}, nil
}

// listObjects collects the objects below prefix. maxKeys of 0 lists everything.
func (sb *S3Backend) listObjects(ctx context.Context, prefix string, recursive bool, maxKeys int) ([]minio.ObjectInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := make([]minio.ObjectInfo, 0)
	for object := range sb.client.ListObjects(ctx, sb.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
		MaxKeys:   maxKeys,
	}) {
		if object.Err != nil {
			return nil, object.Err
		}

		objects = append(objects, object)
		if maxKeys > 0 && len(objects) >= maxKeys {
			break
		}
	}

	return objects, nil
}

func (sb *S3Backend) putMarker(ctx context.Context, virtual string) (minio.UploadInfo, error) {
	return sb.client.PutObject(ctx, sb.bucketName, sb.dirPrefix(virtual), bytes.NewReader(nil), 0, minio.PutObjectOptions{
		ContentType: string(data.ContentTypeDirectory),
	})
}

// ensureParents creates missing markers for all ancestors of virtual.
func (sb *S3Backend) ensureParents(ctx context.Context, op, virtual string) error {
	segments := data.Split(data.Dir(virtual))
	current := data.Separator

	for _, segment := range segments {
		current = data.Join(current, segment)

		info, err := sb.stat(ctx, op, current, data.KindDirectoryNotFound)
		if err == nil {
			if !isMarker(info) {
				return data.NewError(data.KindNotDirectory, op, current, nil)
			}
			continue
		}
		if !errors.Is(err, data.ErrDirectoryNotFound) {
			return err
		}

		if _, err := sb.putMarker(ctx, current); err != nil {
			return mapError(op, current, err, data.KindDirectoryNotFound)
		}
	}

	return nil
}

// removePrefix deletes every object below prefix, collecting all failures.
func (sb *S3Backend) removePrefix(ctx context.Context, prefix string) error {
	objects, err := sb.listObjects(ctx, prefix, true, 0)
	if err != nil {
		return err
	}

	errs := data.Errors{}
	for _, object := range objects {
		errs.Add(sb.client.RemoveObject(ctx, sb.bucketName, object.Key, minio.RemoveObjectOptions{}))
	}
	// Markers are not always part of the listing
	if !slices.ContainsFunc(objects, func(object minio.ObjectInfo) bool { return object.Key == prefix }) {
		if err := sb.client.RemoveObject(ctx, sb.bucketName, prefix, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
			errs.Add(err)
		}
	}

	return errs.Errors()
}

func (sb *S3Backend) CreateDirectory(ctx context.Context, path string) (*data.FolderItem, error) {
	virtual := data.Normalize(path)

	info, err := sb.stat(ctx, "mkdir", virtual, data.KindDirectoryNotFound)
	if err == nil {
		if isMarker(info) {
			return nil, data.NewError(data.KindDirectoryExists, "mkdir", virtual, nil)
		}
		return nil, data.NewError(data.KindFileExists, "mkdir", virtual, nil)
	}
	if !errors.Is(err, data.ErrDirectoryNotFound) {
		return nil, err
	}

	if err := sb.ensureParents(ctx, "mkdir", virtual); err != nil {
		return nil, err
	}

	upload, err := sb.putMarker(ctx, virtual)
	if err != nil {
		return nil, mapError("mkdir", virtual, err, data.KindDirectoryNotFound)
	}

	return sb.toItem(virtual, minio.ObjectInfo{
		Key:          upload.Key,
		ContentType:  string(data.ContentTypeDirectory),
		LastModified: upload.LastModified,
		ETag:         upload.ETag,
	}).(*data.FolderItem), nil
}

func (sb *S3Backend) RemoveDirectory(ctx context.Context, path string, recursive bool) error {
	virtual := data.Normalize(path)
	if virtual == data.Separator {
		return data.NewError(data.KindInvalidPath, "rmdir", virtual, errors.New("root cannot be removed"))
	}

	info, err := sb.stat(ctx, "rmdir", virtual, data.KindDirectoryNotFound)
	if err != nil {
		return err
	}
	if !isMarker(info) {
		return data.NewError(data.KindNotDirectory, "rmdir", virtual, nil)
	}

	prefix := sb.dirPrefix(virtual)
	if !recursive {
		children, err := sb.listObjects(ctx, prefix, false, 2)
		if err != nil {
			return mapError("rmdir", virtual, err, data.KindDirectoryNotFound)
		}
		for _, child := range children {
			if child.Key != prefix {
				return data.NewError(data.KindDirectoryNotEmpty, "rmdir", virtual, nil)
			}
		}
	}

	return mapError("rmdir", virtual, sb.removePrefix(ctx, prefix), data.KindDirectoryNotFound)
}

func (sb *S3Backend) UploadFile(ctx context.Context, source data.Source, path string, opts *data.WriteOptions) (*data.FileItem, error) {
	opts = backend.Options(opts)
	virtual := data.Normalize(path)
	if virtual == data.Separator {
		return nil, data.NewError(data.KindIsDirectory, "upload", virtual, nil)
	}

	if err := sb.policy.CheckExtension(virtual); err != nil {
		return nil, err
	}

	info, err := sb.stat(ctx, "upload", virtual, data.KindFileNotFound)
	if err == nil {
		if isMarker(info) {
			return nil, data.NewError(data.KindIsDirectory, "upload", virtual, nil)
		}
		if !opts.Overwrite {
			return nil, data.NewError(data.KindFileExists, "upload", virtual, nil)
		}
	} else if !errors.Is(err, data.ErrFileNotFound) {
		return nil, err
	}

	r, size, err := source.Open()
	if err != nil {
		return nil, data.Wrap("upload", virtual, err)
	}
	defer r.Close()

	if err := sb.policy.CheckSize(virtual, size); err != nil {
		return nil, err
	}

	if err := sb.ensureParents(ctx, "upload", virtual); err != nil {
		return nil, err
	}

	buffered := bufio.NewReaderSize(backend.ProgressReader(sb.policy.Limit(virtual, r), size, opts.OnProgress), 512)
	head, _ := buffered.Peek(512)
	mimeType := data.DetectContentType(virtual, head)

	upload, err := sb.client.PutObject(ctx, sb.bucketName, sb.objectKey(virtual), buffered, size, minio.PutObjectOptions{
		ContentType:  mimeType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return nil, mapError("upload", virtual, err, data.KindDirectoryNotFound)
	}

	file := sb.toItem(virtual, minio.ObjectInfo{
		Key:          upload.Key,
		Size:         upload.Size,
		ETag:         upload.ETag,
		ContentType:  mimeType,
		LastModified: upload.LastModified,
	}).(*data.FileItem)
	for key, value := range opts.Metadata {
		file.Metadata[key] = value
	}

	return file, nil
}

func (sb *S3Backend) DownloadFile(ctx context.Context, path string, sink *data.Sink, opts *data.WriteOptions) (*data.Download, error) {
	opts = backend.Options(opts)
	virtual := data.Normalize(path)

	info, err := sb.stat(ctx, "download", virtual, data.KindFileNotFound)
	if err != nil {
		return nil, err
	}
	if isMarker(info) {
		return nil, data.NewError(data.KindIsDirectory, "download", virtual, nil)
	}

	object, err := sb.client.GetObject(ctx, sb.bucketName, sb.objectKey(virtual))
	if err != nil {
		return nil, mapError("download", virtual, err, data.KindFileNotFound)
	}
	defer object.Close()

	download := &data.Download{
		Item: sb.toItem(virtual, info).(*data.FileItem),
	}
	reader := backend.ProgressReader(object, info.Size, opts.OnProgress)

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

func (sb *S3Backend) MoveItem(ctx context.Context, src, dst string, opts *data.WriteOptions) (data.Item, error) {
	srcVirtual := data.Normalize(src)

	info, err := sb.stat(ctx, "move", srcVirtual, data.KindFileNotFound)
	if err != nil {
		return nil, err
	}

	return sb.move(ctx, "move", srcVirtual, data.Normalize(dst), info, backend.Options(opts))
}

func (sb *S3Backend) DeleteFile(ctx context.Context, path string) error {
	virtual := data.Normalize(path)

	info, err := sb.stat(ctx, "delete", virtual, data.KindFileNotFound)
	if err != nil {
		return err
	}
	if isMarker(info) {
		return data.NewError(data.KindIsDirectory, "delete", virtual, nil)
	}

	err = sb.client.RemoveObject(ctx, sb.bucketName, sb.objectKey(virtual), minio.RemoveObjectOptions{})
	return mapError("delete", virtual, err, data.KindFileNotFound)
}

func (sb *S3Backend) RenameFile(ctx context.Context, path, newName string, opts *data.WriteOptions) (*data.FileItem, error) {
	if err := data.ValidateName(newName); err != nil {
		return nil, err
	}

	virtual := data.Normalize(path)
	info, err := sb.stat(ctx, "rename", virtual, data.KindFileNotFound)
	if err != nil {
		return nil, err
	}
	if isMarker(info) {
		return nil, data.NewError(data.KindIsDirectory, "rename", virtual, nil)
	}

	item, err := sb.move(ctx, "rename", virtual, data.Join(data.Dir(virtual), newName), info, backend.Options(opts))
	if err != nil {
		return nil, err
	}

	return item.(*data.FileItem), nil
}

func (sb *S3Backend) RenameFolder(ctx context.Context, path, newName string, opts *data.WriteOptions) (*data.FolderItem, error) {
	if err := data.ValidateName(newName); err != nil {
		return nil, err
	}

	virtual := data.Normalize(path)
	info, err := sb.stat(ctx, "rename", virtual, data.KindDirectoryNotFound)
	if err != nil {
		return nil, err
	}
	if !isMarker(info) {
		return nil, data.NewError(data.KindNotDirectory, "rename", virtual, nil)
	}

	item, err := sb.move(ctx, "rename", virtual, data.Join(data.Dir(virtual), newName), info, backend.Options(opts))
	if err != nil {
		return nil, err
	}

	return item.(*data.FolderItem), nil
}

// move copies every affected key to its new location before removing the sources.
func (sb *S3Backend) move(ctx context.Context, op, srcVirtual, dstVirtual string, info minio.ObjectInfo, opts *data.WriteOptions) (data.Item, error) {
	if srcVirtual == data.Separator || dstVirtual == data.Separator {
		return nil, data.NewError(data.KindInvalidPath, op, srcVirtual, errors.New("root cannot be moved"))
	}
	if srcVirtual == dstVirtual {
		return sb.toItem(srcVirtual, info), nil
	}

	folder := isMarker(info)
	if folder && data.HasPathPrefix(dstVirtual, srcVirtual) {
		return nil, data.NewError(data.KindInvalidPath, op, dstVirtual, errors.New("cannot move a folder into itself"))
	}
	if data.HasPathPrefix(srcVirtual, dstVirtual) {
		return nil, data.NewError(data.KindInvalidPath, op, dstVirtual, errors.New("cannot replace an ancestor of the source"))
	}

	existing, err := sb.stat(ctx, op, dstVirtual, data.KindFileNotFound)
	switch {
	case err == nil:
		if !opts.Overwrite {
			if isMarker(existing) {
				return nil, data.NewError(data.KindDirectoryExists, op, dstVirtual, nil)
			}
			return nil, data.NewError(data.KindFileExists, op, dstVirtual, nil)
		}
		if isMarker(existing) != folder {
			if isMarker(existing) {
				return nil, data.NewError(data.KindIsDirectory, op, dstVirtual, nil)
			}
			return nil, data.NewError(data.KindNotDirectory, op, dstVirtual, nil)
		}
		// Overwrite only replaces empty folders
		if folder {
			prefix := sb.dirPrefix(dstVirtual)
			children, err := sb.listObjects(ctx, prefix, false, 2)
			if err != nil {
				return nil, mapError(op, dstVirtual, err, data.KindDirectoryNotFound)
			}
			for _, child := range children {
				if child.Key != prefix {
					return nil, data.NewError(data.KindDirectoryNotEmpty, op, dstVirtual, nil)
				}
			}
			if err := sb.removePrefix(ctx, prefix); err != nil {
				return nil, mapError(op, dstVirtual, err, data.KindDirectoryNotFound)
			}
		}
	case !errors.Is(err, data.ErrFileNotFound):
		return nil, err
	}

	if err := sb.ensureParents(ctx, op, dstVirtual); err != nil {
		return nil, err
	}

	if !folder {
		if err := sb.copyObject(ctx, sb.objectKey(srcVirtual), sb.objectKey(dstVirtual)); err != nil {
			return nil, mapError(op, srcVirtual, err, data.KindFileNotFound)
		}
		if err := sb.client.RemoveObject(ctx, sb.bucketName, sb.objectKey(srcVirtual), minio.RemoveObjectOptions{}); err != nil {
			return nil, mapError(op, srcVirtual, err, data.KindFileNotFound)
		}

		moved, err := sb.stat(ctx, op, dstVirtual, data.KindFileNotFound)
		if err != nil {
			return nil, err
		}
		return sb.toItem(dstVirtual, moved), nil
	}

	srcPrefix, dstPrefix := sb.dirPrefix(srcVirtual), sb.dirPrefix(dstVirtual)
	objects, err := sb.listObjects(ctx, srcPrefix, true, 0)
	if err != nil {
		return nil, mapError(op, srcVirtual, err, data.KindDirectoryNotFound)
	}

	upload, err := sb.putMarker(ctx, dstVirtual)
	if err != nil {
		return nil, mapError(op, dstVirtual, err, data.KindDirectoryNotFound)
	}
	for _, object := range objects {
		if object.Key == srcPrefix {
			continue
		}
		if err := sb.copyObject(ctx, object.Key, dstPrefix+strings.TrimPrefix(object.Key, srcPrefix)); err != nil {
			return nil, mapError(op, srcVirtual, err, data.KindFileNotFound)
		}
	}

	if err := sb.removePrefix(ctx, srcPrefix); err != nil {
		return nil, mapError(op, srcVirtual, err, data.KindDirectoryNotFound)
	}

	return sb.toItem(dstVirtual, minio.ObjectInfo{
		Key:          upload.Key,
		ContentType:  string(data.ContentTypeDirectory),
		LastModified: upload.LastModified,
	}), nil
}

func (sb *S3Backend) copyObject(ctx context.Context, srcKey, dstKey string) error {
	_, err := sb.client.CopyObject(ctx, minio.CopyDestOptions{
		Bucket: sb.bucketName,
		Object: dstKey,
	}, minio.CopySrcOptions{
		Bucket: sb.bucketName,
		Object: srcKey,
	})
	return err
}

func (sb *S3Backend) ListDirectory(ctx context.Context, path string, opts *data.ListOptions) ([]data.Item, error) {
	opts = backend.ListingOptions(opts)
	virtual := data.Normalize(path)

	info, err := sb.stat(ctx, "list", virtual, data.KindDirectoryNotFound)
	if err != nil {
		return nil, err
	}
	if !isMarker(info) {
		return nil, data.NewError(data.KindNotDirectory, "list", virtual, nil)
	}

	items := make([]data.Item, 0)
	if err := sb.list(ctx, virtual, opts, &items); err != nil {
		return nil, err
	}

	return items, nil
}

func (sb *S3Backend) list(ctx context.Context, virtual string, opts *data.ListOptions, items *[]data.Item) error {
	prefix := sb.dirPrefix(virtual)

	objects, err := sb.listObjects(ctx, prefix, false, 0)
	if err != nil {
		return mapError("list", virtual, err, data.KindDirectoryNotFound)
	}

	children := make([]data.Item, 0, len(objects))
	for _, object := range objects {
		// Skip the directory marker itself
		if object.Key == prefix {
			continue
		}

		name := strings.TrimSuffix(strings.TrimPrefix(object.Key, prefix), "/")
		if !opts.IncludeHidden && data.IsHidden(name) {
			continue
		}
		children = append(children, sb.toItem(data.Join(virtual, name), object))
	}

	sortItems(children)

	for _, child := range children {
		if opts.Match(child) {
			*items = append(*items, child)
		}
		if opts.Recursive && child.IsFolder() {
			if err := sb.list(ctx, child.Info().Path, opts, items); err != nil {
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

func (sb *S3Backend) GetItem(ctx context.Context, path string) (data.Item, error) {
	virtual := data.Normalize(path)

	info, err := sb.stat(ctx, "stat", virtual, data.KindFileNotFound)
	if err != nil {
		return nil, err
	}

	return sb.toItem(virtual, info), nil
}

func (sb *S3Backend) Exists(ctx context.Context, path string) bool {
	_, err := sb.GetItem(ctx, path)
	return err == nil
}

func (sb *S3Backend) GetFolderTree(ctx context.Context, path string, depth int) ([]*data.TreeNode, error) {
	virtual := data.Normalize(path)

	info, err := sb.stat(ctx, "tree", virtual, data.KindDirectoryNotFound)
	if err != nil {
		return nil, err
	}
	if !isMarker(info) {
		return nil, data.NewError(data.KindNotDirectory, "tree", virtual, nil)
	}

	return backend.BuildFolderTree(ctx, sb, virtual, depth, 0), nil
}

var _ backend.StorageBackend = (*S3Backend)(nil)
