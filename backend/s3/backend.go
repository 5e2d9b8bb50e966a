// Package s3 implements the storage backend on an S3 compatible object store.
// Directories are zero-byte marker objects with a trailing slash.
package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mwantia/vstore/backend"
	"github.com/mwantia/vstore/data"
)

type Config struct {
	Endpoint  string `mapstructure:"endpoint" validate:"required"`
	Bucket    string `mapstructure:"bucket" validate:"required"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	// Prefix all keys are stored below, e.g. "tenant-a/"
	Prefix string `mapstructure:"prefix"`

	backend.WritePolicy `mapstructure:",squash"`
}

// objectClient is the part of the minio client used by the backend.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	GetObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, error)
}

type minioClient struct {
	*minio.Client
}

func (c minioClient) GetObject(ctx context.Context, bucketName, objectName string) (io.ReadCloser, error) {
	object, err := c.Client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}

	// GetObject is lazy, Stat surfaces missing keys before the first read
	if _, err := object.Stat(); err != nil {
		object.Close()
		return nil, err
	}
	return object, nil
}

type S3Backend struct {
	mu sync.RWMutex

	client     objectClient
	bucketName string
	prefix     string
	policy     backend.WritePolicy
}

func NewS3Backend(config *Config) (*S3Backend, error) {
	if config == nil || config.Endpoint == "" || config.Bucket == "" {
		return nil, data.NewError(data.KindConfiguration, "init", "", errors.New("endpoint and bucket are required"))
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, data.NewError(data.KindConfiguration, "init", "", err)
	}

	return newS3Backend(config, minioClient{client}), nil
}

func newS3Backend(config *Config, client objectClient) *S3Backend {
	prefix := strings.Trim(config.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &S3Backend{
		client:     client,
		bucketName: config.Bucket,
		prefix:     prefix,
		policy:     config.WritePolicy,
	}
}

// Name returns the identifier name defined for this backend
func (*S3Backend) Name() string {
	return "s3"
}

// Open verifies that the configured bucket exists.
func (sb *S3Backend) Open(ctx context.Context) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	exists, err := sb.client.BucketExists(ctx, sb.bucketName)
	if err != nil {
		return mapError("open", data.Separator, err, data.KindConfiguration)
	}
	if !exists {
		return data.NewError(data.KindConfiguration, "open", data.Separator, errors.New("bucket '"+sb.bucketName+"' does not exist"))
	}

	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (sb *S3Backend) Close(ctx context.Context) error {
	return nil
}

func (sb *S3Backend) Capabilities() *backend.Capabilities {
	return &backend.Capabilities{
		Capabilities: []backend.Capability{
			backend.CapabilityStreaming,
		},
		MaxObjectSize: sb.policy.MaxFileSize,
	}
}

// objectKey converts a virtual path into the object key, "" for the root.
func (sb *S3Backend) objectKey(virtual string) string {
	return sb.prefix + data.ToRelativePath(virtual)
}

// dirPrefix returns the prefix of all keys below the virtual directory.
func (sb *S3Backend) dirPrefix(virtual string) string {
	key := sb.objectKey(virtual)
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}

// virtualPath converts an object key back into a virtual path.
func (sb *S3Backend) virtualPath(key string) string {
	return data.Normalize(strings.TrimSuffix(strings.TrimPrefix(key, sb.prefix), "/"))
}

func isMarker(info minio.ObjectInfo) bool {
	return strings.HasSuffix(info.Key, "/") || info.ContentType == string(data.ContentTypeDirectory)
}

func (sb *S3Backend) toItem(virtual string, info minio.ObjectInfo) data.Item {
	virtual = data.Normalize(virtual)

	var item data.Item
	if isMarker(info) {
		item = data.NewFolderItem(sb.dirPrefix(virtual), virtual, info.LastModified.UTC())
	} else {
		mimeType := info.ContentType
		if mimeType == "" {
			mimeType = string(data.GetMIMEType(virtual))
		}
		item = data.NewFileItem(sb.objectKey(virtual), virtual, info.Size, mimeType, info.LastModified.UTC())
		item.Info().Metadata[data.MetadataMimeType] = mimeType
	}

	if virtual != data.Separator {
		item.Info().ParentID = sb.dirPrefix(data.Dir(virtual))
	}
	if info.ETag != "" {
		item.Info().Metadata[data.MetadataETag] = info.ETag
	}

	return item
}

// mapError converts minio error responses into typed errors.
func mapError(op, virtual string, err error, notFound data.ErrorKind) error {
	if err == nil {
		return nil
	}

	var typed *data.Error
	if errors.As(err, &typed) {
		return data.Wrap(op, virtual, typed)
	}

	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return data.NewError(notFound, op, virtual, nil)
	case "NoSuchBucket":
		return data.NewError(data.KindConfiguration, op, virtual, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return data.NewError(data.KindAuthFailed, op, virtual, err)
	}

	return data.Wrap(op, virtual, err)
}
