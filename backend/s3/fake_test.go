package s3

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
)

type fakeObject struct {
	content     []byte
	contentType string
	modified    time.Time
}

// fakeClient keeps objects of a single bucket in memory.
type fakeClient struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]*fakeObject
	calls   map[string]int
	denied  bool
}

func newFakeClient(bucket string) *fakeClient {
	return &fakeClient{
		bucket:  bucket,
		objects: make(map[string]*fakeObject),
		calls:   make(map[string]int),
	}
}

func (f *fakeClient) check(name, bucket string) error {
	f.calls[name]++
	if f.denied {
		return minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}
	}
	if bucket != f.bucket {
		return minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}
	}
	return nil
}

func noSuchKey(key string) error {
	return minio.ErrorResponse{Code: "NoSuchKey", Key: key, StatusCode: http.StatusNotFound}
}

func (f *fakeClient) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.denied {
		return false, minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}
	}
	return bucketName == f.bucket, nil
}

func (f *fakeClient) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check("stat", bucketName); err != nil {
		return minio.ObjectInfo{}, err
	}

	object, ok := f.objects[objectName]
	if !ok {
		return minio.ObjectInfo{}, noSuchKey(objectName)
	}
	return f.info(objectName, object), nil
}

func (f *fakeClient) info(key string, object *fakeObject) minio.ObjectInfo {
	return minio.ObjectInfo{
		Key:          key,
		Size:         int64(len(object.content)),
		ContentType:  object.contentType,
		LastModified: object.modified,
		ETag:         "etag-" + key,
	}
}

func (f *fakeClient) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan minio.ObjectInfo, len(f.objects)+1)
	defer close(ch)

	if err := f.check("list", bucketName); err != nil {
		ch <- minio.ObjectInfo{Err: err}
		return ch
	}

	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	seen := make(map[string]bool)
	for _, key := range keys {
		if !strings.HasPrefix(key, opts.Prefix) {
			continue
		}

		rest := strings.TrimPrefix(key, opts.Prefix)
		if idx := strings.Index(rest, "/"); !opts.Recursive && idx >= 0 && idx < len(rest)-1 {
			// Common prefix of a deeper key
			common := opts.Prefix + rest[:idx+1]
			if !seen[common] {
				seen[common] = true
				ch <- minio.ObjectInfo{Key: common}
			}
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		ch <- f.info(key, f.objects[key])
	}

	return ch
}

func (f *fakeClient) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check("put", bucketName); err != nil {
		return minio.UploadInfo{}, err
	}

	now := time.Now().UTC()
	f.objects[objectName] = &fakeObject{
		content:     content,
		contentType: opts.ContentType,
		modified:    now,
	}

	return minio.UploadInfo{
		Bucket:       bucketName,
		Key:          objectName,
		Size:         int64(len(content)),
		ETag:         "etag-" + objectName,
		LastModified: now,
	}, nil
}

func (f *fakeClient) CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check("copy", src.Bucket); err != nil {
		return minio.UploadInfo{}, err
	}

	object, ok := f.objects[src.Object]
	if !ok {
		return minio.UploadInfo{}, noSuchKey(src.Object)
	}

	copied := *object
	copied.content = slices.Clone(object.content)
	f.objects[dst.Object] = &copied

	return minio.UploadInfo{Bucket: dst.Bucket, Key: dst.Object, Size: int64(len(copied.content))}, nil
}

func (f *fakeClient) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check("remove", bucketName); err != nil {
		return err
	}

	// S3 removes are idempotent
	delete(f.objects, objectName)
	return nil
}

func (f *fakeClient) GetObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check("get", bucketName); err != nil {
		return nil, err
	}

	object, ok := f.objects[objectName]
	if !ok {
		return nil, noSuchKey(objectName)
	}
	return io.NopCloser(bytes.NewReader(object.content)), nil
}
