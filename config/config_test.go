package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mwantia/vstore/backend/local"
	"github.com/mwantia/vstore/data"
	"github.com/mwantia/vstore/metadata/memory"
	"github.com/mwantia/vstore/metadata/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "vstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "local", cfg.Backend.Type)
	assert.Equal(t, "./data", cfg.Backend.Local["root"])
	assert.False(t, cfg.Metadata.Enabled)
	assert.True(t, cfg.Tracking.AwaitRecording)
	assert.Equal(t, 3, cfg.Tracking.RetryAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Tracking.RetryDelay)
	assert.Equal(t, "xxh64", cfg.Hashing.Algorithm)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
backend:
  type: s3
  s3:
    endpoint: localhost:9000
    bucket: files
    prefix: tenant-a
    max_file_size: 1024
    allowed_extensions: [".pdf", ".png"]
metadata:
  enabled: true
  type: memory
tracking:
  soft_delete: true
  retry_delay: 250ms
  merge_strategy: deep
hashing:
  algorithm: sha256
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "s3", cfg.Backend.Type)
	assert.Equal(t, "files", cfg.Backend.S3["bucket"])
	assert.True(t, cfg.Metadata.Enabled)
	assert.Equal(t, "memory", cfg.Metadata.Type)
	assert.True(t, cfg.Tracking.SoftDelete)
	assert.Equal(t, 250*time.Millisecond, cfg.Tracking.RetryDelay)
	assert.Equal(t, "deep", cfg.Tracking.MergeStrategy)
	assert.Equal(t, "sha256", cfg.Hashing.Algorithm)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("VSTORE_BACKEND_TYPE", "cloud")
	t.Setenv("VSTORE_TRACKING_RETRY_ATTEMPTS", "5")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "cloud", cfg.Backend.Type)
	assert.Equal(t, 5, cfg.Tracking.RetryAttempts)
}

func TestLoad_Invalid(t *testing.T) {
	for name, content := range map[string]string{
		"backend-type":   "backend:\n  type: ftp\n",
		"metadata-type":  "metadata:\n  enabled: true\n  type: redis\n",
		"hash":           "hashing:\n  algorithm: md5\n",
		"retry-attempts": "tracking:\n  retry_attempts: 0\n",
		"yaml":           "backend: [unclosed\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestNewBackend(t *testing.T) {
	root := t.TempDir()
	storage, err := NewBackend(BackendConfig{
		Type: "local",
		Local: map[string]any{
			"root":               root,
			"max_file_size":      "16",
			"allowed_extensions": ".txt,.md",
		},
	})
	require.NoError(t, err)
	require.IsType(t, &local.LocalBackend{}, storage)
	assert.Equal(t, root, storage.(*local.LocalBackend).Root())

	ctx := t.Context()
	require.NoError(t, storage.Open(ctx))

	_, err = storage.UploadFile(ctx, data.SourceFromBytes([]byte("ok")), "/a.txt", nil)
	require.NoError(t, err)
	_, err = storage.UploadFile(ctx, data.SourceFromBytes([]byte("ok")), "/a.exe", nil)
	require.ErrorIs(t, err, data.ErrExtensionNotAllowed)
	_, err = storage.UploadFile(ctx, data.SourceFromBytes(make([]byte, 17)), "/b.txt", nil)
	require.ErrorIs(t, err, data.ErrFileTooLarge)
}

func TestNewBackend_Errors(t *testing.T) {
	_, err := NewBackend(BackendConfig{Type: "local"})
	require.ErrorIs(t, err, data.ErrConfiguration)

	_, err = NewBackend(BackendConfig{Type: "s3", S3: map[string]any{"endpoint": "localhost:9000"}})
	require.ErrorIs(t, err, data.ErrConfiguration)

	_, err = NewBackend(BackendConfig{Type: "cloud", Cloud: map[string]any{}})
	require.ErrorIs(t, err, data.ErrConfiguration)

	_, err = NewBackend(BackendConfig{Type: "ftp"})
	require.ErrorIs(t, err, data.ErrConfiguration)
}

func TestNewRecordStore(t *testing.T) {
	ctx := t.Context()

	store, err := NewRecordStore(ctx, MetadataConfig{Enabled: false, Type: "memory"})
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = NewRecordStore(ctx, MetadataConfig{Enabled: true, Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)

	store, err = NewRecordStore(ctx, MetadataConfig{
		Enabled: true,
		Type:    "sqlite",
		SQLite:  map[string]any{"path": filepath.Join(t.TempDir(), "vstore.db")},
	})
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, store)
	require.NoError(t, store.Close(ctx))

	_, err = NewRecordStore(ctx, MetadataConfig{Enabled: true, Type: "sqlite"})
	require.Error(t, err)

	_, err = NewRecordStore(ctx, MetadataConfig{Enabled: true, Type: "postgres"})
	require.Error(t, err)
}

func TestNewManager(t *testing.T) {
	ctx := t.Context()

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Backend.Local = map[string]any{"root": t.TempDir()}
	cfg.Metadata = MetadataConfig{Enabled: true, Type: "memory"}

	m, err := NewManager(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, m.Open(ctx))
	defer m.Close(ctx)

	assert.True(t, m.Tracking())
	assert.Equal(t, "local", m.Name())

	_, err = m.UploadFile(ctx, data.SourceFromBytes([]byte("hello")), "/a/b.txt", nil)
	require.NoError(t, err)

	record, err := m.Record(ctx, "/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), record.FileSize)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "warn", NoColor: true})
	require.NoError(t, err)
	assert.Equal(t, "vstore", logger.Name())

	_, err = NewLogger(LoggingConfig{Level: "loud"})
	require.Error(t, err)
}
