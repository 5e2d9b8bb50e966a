package vstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mwantia/vstore/data"
	"github.com/mwantia/vstore/extraction"
	"github.com/mwantia/vstore/hashing"
	"github.com/mwantia/vstore/metadata"
)

func (m *Manager) CreateDirectory(ctx context.Context, path string) (*data.FolderItem, error) {
	folder, err := m.backend.CreateDirectory(ctx, path)
	if err != nil {
		return nil, err
	}

	scope, uploader := scopeFrom(ctx), uploaderFrom(ctx)
	m.record(ctx, "mkdir", folder.Path, func(ctx context.Context) error {
		return m.upsert(ctx, folder, "", scope, uploader)
	})

	return folder, nil
}

func (m *Manager) RemoveDirectory(ctx context.Context, path string, recursive bool) error {
	if err := m.backend.RemoveDirectory(ctx, path, recursive); err != nil {
		return err
	}

	virtual := data.Normalize(path)
	m.record(ctx, "rmdir", virtual, func(ctx context.Context) error {
		return m.forgetTree(ctx, virtual)
	})

	return nil
}

// UploadFile hashes the content while the backend reads it when tracking is enabled.
// The content is only kept in memory for a configured extractor.
func (m *Manager) UploadFile(ctx context.Context, source data.Source, path string, opts *data.WriteOptions) (*data.FileItem, error) {
	if !m.Tracking() {
		return m.backend.UploadFile(ctx, source, path, opts)
	}

	r, size, err := source.Open()
	if err != nil {
		return nil, data.Wrap("upload", data.Normalize(path), err)
	}
	defer r.Close()

	digest := hashing.NewDigest(m.hasher)
	writers := []io.Writer{digest}

	var content *bytes.Buffer
	if m.options.Extractor != nil {
		content = &bytes.Buffer{}
		writers = append(writers, content)
	}

	tee := io.TeeReader(r, io.MultiWriter(writers...))
	file, err := m.backend.UploadFile(ctx, data.SourceFromReader(tee, size), path, opts)
	if err != nil {
		return nil, err
	}

	hash := digest.Sum()
	scope, uploader := scopeFrom(ctx), uploaderFrom(ctx)
	m.record(ctx, "upload", file.Path, func(ctx context.Context) error {
		if err := m.upsert(ctx, file, hash, scope, uploader); err != nil {
			return err
		}
		if content != nil {
			m.extractUploaded(ctx, file, content.Bytes())
		}
		return nil
	})

	return file, nil
}

// DownloadFile stamps storage_verified_at of the record on success.
func (m *Manager) DownloadFile(ctx context.Context, path string, sink *data.Sink, opts *data.WriteOptions) (*data.Download, error) {
	download, err := m.backend.DownloadFile(ctx, path, sink, opts)
	if err != nil {
		return nil, err
	}

	virtual := download.Item.Path
	m.record(ctx, "access", virtual, func(ctx context.Context) error {
		return m.update(ctx, virtual, func(record *metadata.Record) bool {
			now := data.Now()
			record.StorageVerifiedAt = &now
			if record.Status == metadata.StatusMissing {
				record.Status = metadata.StatusActive
			}
			return true
		})
	})

	return download, nil
}

func (m *Manager) MoveItem(ctx context.Context, src, dst string, opts *data.WriteOptions) (data.Item, error) {
	item, err := m.backend.MoveItem(ctx, src, dst, opts)
	if err != nil {
		return nil, err
	}

	m.relocate(ctx, "move", data.Normalize(src), item)
	return item, nil
}

func (m *Manager) DeleteFile(ctx context.Context, path string) error {
	if err := m.backend.DeleteFile(ctx, path); err != nil {
		return err
	}

	virtual := data.Normalize(path)
	m.record(ctx, "delete", virtual, func(ctx context.Context) error {
		record, err := m.store.Get(ctx, virtual, m.backend.Name())
		if errors.Is(err, metadata.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return m.forget(ctx, record)
	})

	return nil
}

func (m *Manager) RenameFile(ctx context.Context, path, newName string, opts *data.WriteOptions) (*data.FileItem, error) {
	file, err := m.backend.RenameFile(ctx, path, newName, opts)
	if err != nil {
		return nil, err
	}

	m.relocate(ctx, "rename", data.Normalize(path), file)
	return file, nil
}

func (m *Manager) RenameFolder(ctx context.Context, path, newName string, opts *data.WriteOptions) (*data.FolderItem, error) {
	folder, err := m.backend.RenameFolder(ctx, path, newName, opts)
	if err != nil {
		return nil, err
	}

	m.relocate(ctx, "rename", data.Normalize(path), folder)
	return folder, nil
}

func (m *Manager) ListDirectory(ctx context.Context, path string, opts *data.ListOptions) ([]data.Item, error) {
	return m.backend.ListDirectory(ctx, path, opts)
}

func (m *Manager) GetItem(ctx context.Context, path string) (data.Item, error) {
	return m.backend.GetItem(ctx, path)
}

func (m *Manager) Exists(ctx context.Context, path string) bool {
	return m.backend.Exists(ctx, path)
}

func (m *Manager) GetFolderTree(ctx context.Context, path string, depth int) ([]*data.TreeNode, error) {
	return m.backend.GetFolderTree(ctx, path, depth)
}

// upsert creates the record of item or refreshes an existing one after an overwrite.
func (m *Manager) upsert(ctx context.Context, item data.Item, hash, scope, uploader string) error {
	info := item.Info()

	record, err := m.store.Get(ctx, info.Path, m.backend.Name())
	if errors.Is(err, metadata.ErrRecordNotFound) {
		record = metadata.NewRecord(item, m.backend.Name())
		record.FileHash = hash
		record.ScopeID = scope
		record.UploadedBy = uploader
		return m.store.Insert(ctx, record)
	}
	if err != nil {
		return err
	}

	record.Filename = info.Name
	record.FileType = string(info.Type)
	record.FileHash = hash
	record.FileSize = data.SizeOf(item)
	if !info.ModifiedAt.IsZero() {
		changed := info.ModifiedAt.UTC()
		record.FileChangedAt = &changed
	}
	if record.Status != metadata.StatusActive {
		record.Status = metadata.StatusActive
		record.DeletedAt = nil
	}
	if scope != "" {
		record.ScopeID = scope
	}
	if uploader != "" {
		record.UploadedBy = uploader
	}

	record.Touch()
	return m.store.Update(ctx, record)
}

// update applies fn to the record at path and stores it when fn reports a change.
// Untracked paths are skipped.
func (m *Manager) update(ctx context.Context, path string, fn func(record *metadata.Record) bool) error {
	record, err := m.store.Get(ctx, path, m.backend.Name())
	if errors.Is(err, metadata.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if !fn(record) {
		return nil
	}

	record.Touch()
	return m.store.Update(ctx, record)
}

// forget removes a record, or marks it soft deleted in soft delete mode.
func (m *Manager) forget(ctx context.Context, record *metadata.Record) error {
	if m.options.SoftDelete {
		_, err := m.refs.SoftDelete(ctx, record.ID)
		return err
	}

	return m.store.Delete(ctx, record.ID)
}

// forgetTree forgets the record of a folder and every record below it.
func (m *Manager) forgetTree(ctx context.Context, path string) error {
	records, err := m.store.Query(ctx, &metadata.RecordQuery{
		StorageType: m.backend.Name(),
		PathPrefix:  path,
	})
	if err != nil {
		return err
	}

	errs := data.Errors{}
	for _, record := range records {
		errs.Add(m.forget(ctx, record))
	}

	return errs.Errors()
}

// relocate rewrites the records of src and, for folders, of everything below it to
// the path of item. Records replaced by an overwrite at the destination are forgotten.
func (m *Manager) relocate(ctx context.Context, op, src string, item data.Item) {
	dst := item.Info().Path
	if src == dst {
		return
	}

	m.record(ctx, op, src, func(ctx context.Context) error {
		storageType := m.backend.Name()

		replaced, err := m.store.Query(ctx, &metadata.RecordQuery{
			StorageType: storageType,
			PathPrefix:  dst,
		})
		if err != nil {
			return err
		}
		for _, record := range replaced {
			if err := m.store.Delete(ctx, record.ID); err != nil {
				return err
			}
		}

		query := &metadata.RecordQuery{
			StorageType: storageType,
			PathPrefix:  src,
		}
		if !item.IsFolder() {
			query.Match = func(record *metadata.Record) bool {
				return record.FilePath == src
			}
		}

		moved, err := m.store.Query(ctx, query)
		if err != nil {
			return err
		}

		errs := data.Errors{}
		for _, record := range moved {
			record.FilePath = data.Rebase(record.FilePath, src, dst)
			record.Filename = data.Base(record.FilePath)
			record.Touch()
			if err := m.store.Update(ctx, record); err != nil {
				errs.Add(fmt.Errorf("failed to relocate '%s': %w", record.ID, err))
			}
		}

		return errs.Errors()
	})
}

// extractUploaded runs the configured extractor on uploaded content. Failures are logged.
func (m *Manager) extractUploaded(ctx context.Context, file *data.FileItem, content []byte) {
	payload, err := m.options.Extractor.Extract(ctx, file, content)
	if err != nil {
		m.logger.Warn("Extraction of '%s' failed: %v", file.Path, err)
		return
	}

	if _, err := m.addExtraction(ctx, file.Path, payload, m.options.ExtractorSource); err != nil {
		m.logger.Warn("Failed to store extraction of '%s': %v", file.Path, err)
	}
}

func (m *Manager) addExtraction(ctx context.Context, path string, payload map[string]any, source string) (*extraction.ExtractionData, error) {
	record, err := m.store.Get(ctx, path, m.backend.Name())
	if err != nil {
		return nil, err
	}

	fileData, err := extraction.Parse(record.FileData)
	if err != nil {
		return nil, err
	}

	entry := fileData.AddExtraction(payload, source, m.options.MergeStrategy)
	record.FileData = fileData.String()
	record.Touch()

	if err := m.store.Update(ctx, record); err != nil {
		return nil, err
	}
	return &entry, nil
}
