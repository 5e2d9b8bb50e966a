package vstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwantia/vstore/data"
	"github.com/mwantia/vstore/extraction"
	"github.com/mwantia/vstore/hashing"
	"github.com/mwantia/vstore/metadata"
	"github.com/mwantia/vstore/refs"
)

// Extractor derives structured data from file content, e.g. through a language model.
type Extractor interface {
	Extract(ctx context.Context, item *data.FileItem, content []byte) (map[string]any, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, item *data.FileItem, content []byte) (map[string]any, error)

func (f ExtractorFunc) Extract(ctx context.Context, item *data.FileItem, content []byte) (map[string]any, error) {
	return f(ctx, item, content)
}

// settle waits for queued metadata writes, so reads observe every completed storage operation.
func (m *Manager) settle(ctx context.Context) error {
	if !m.Tracking() {
		return ErrTrackingDisabled
	}

	return m.recorder.flush(ctx)
}

// Record returns the metadata record of path.
func (m *Manager) Record(ctx context.Context, path string) (*metadata.Record, error) {
	if err := m.settle(ctx); err != nil {
		return nil, err
	}

	return m.store.Get(ctx, data.Normalize(path), m.backend.Name())
}

// Records queries the records of this manager's backend.
func (m *Manager) Records(ctx context.Context, query *metadata.RecordQuery) ([]*metadata.Record, error) {
	if err := m.settle(ctx); err != nil {
		return nil, err
	}

	q := metadata.RecordQuery{}
	if query != nil {
		q = *query
	}
	q.StorageType = m.backend.Name()

	return m.store.Query(ctx, &q)
}

func (m *Manager) AddRef(ctx context.Context, path string, ref refs.Ref) (*metadata.FileRef, error) {
	record, err := m.Record(ctx, path)
	if err != nil {
		return nil, err
	}

	return m.refs.AddRef(ctx, record.ID, ref)
}

// RemoveRef removes the ref with refID from the record of path.
func (m *Manager) RemoveRef(ctx context.Context, path, refID string) (bool, error) {
	record, err := m.Record(ctx, path)
	if err != nil {
		return false, err
	}

	return m.refs.RemoveRef(ctx, record.ID, refID)
}

// RemoveRefsByCriteria removes every ref matching c. Empty criteria remove nothing.
func (m *Manager) RemoveRefsByCriteria(ctx context.Context, c refs.Criteria) (int, error) {
	if err := m.settle(ctx); err != nil {
		return 0, err
	}

	return m.refs.RemoveRefsByCriteria(ctx, c)
}

func (m *Manager) Refs(ctx context.Context, path string) ([]metadata.FileRef, error) {
	record, err := m.Record(ctx, path)
	if err != nil {
		return nil, err
	}

	return m.refs.Refs(ctx, record.ID)
}

func (m *Manager) FindByEntity(ctx context.Context, entityType, entityID string) ([]*metadata.Record, error) {
	if err := m.settle(ctx); err != nil {
		return nil, err
	}

	return m.refs.FindByEntity(ctx, entityType, entityID)
}

// FindOrphaned returns records without refs. The filter defaults to this manager's backend.
func (m *Manager) FindOrphaned(ctx context.Context, filter refs.OrphanFilter) ([]*metadata.Record, error) {
	if err := m.settle(ctx); err != nil {
		return nil, err
	}

	if filter.StorageType == "" {
		filter.StorageType = m.backend.Name()
	}
	return m.refs.FindOrphaned(ctx, filter)
}

// SoftDelete marks the record of path deleted without touching the stored item.
func (m *Manager) SoftDelete(ctx context.Context, path string) (*metadata.Record, error) {
	record, err := m.Record(ctx, path)
	if err != nil {
		return nil, err
	}

	return m.refs.SoftDelete(ctx, record.ID)
}

func (m *Manager) Restore(ctx context.Context, path string) (*metadata.Record, error) {
	record, err := m.Record(ctx, path)
	if err != nil {
		return nil, err
	}

	return m.refs.Restore(ctx, record.ID)
}

// VerifyStorage checks that the item of path still exists. Missing items are marked
// missing, present ones are stamped verified and leave the missing state.
func (m *Manager) VerifyStorage(ctx context.Context, path string) (*metadata.Record, error) {
	record, err := m.Record(ctx, path)
	if err != nil {
		return nil, err
	}
	if m.store.Generation() < metadata.Generation2 {
		return nil, metadata.ErrMigrationRequired
	}

	now := data.Now()
	if m.backend.Exists(ctx, record.FilePath) {
		record.StorageVerifiedAt = &now
		if record.Status == metadata.StatusMissing {
			record.Status = metadata.StatusActive
		}
	} else if record.Status != metadata.StatusSoftDeleted {
		record.Status = metadata.StatusMissing
	}

	record.Touch()
	if err := m.store.Update(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// CheckChanged downloads the file of path and compares it against the stored hash.
func (m *Manager) CheckChanged(ctx context.Context, path string) (bool, error) {
	if !m.Tracking() {
		return false, ErrTrackingDisabled
	}

	download, err := m.backend.DownloadFile(ctx, path, nil, nil)
	if err != nil {
		return false, err
	}

	return m.HasChanged(ctx, path, download.Content)
}

// HasChanged compares content against the stored hash of path. Untracked paths and
// records without hash always report a change.
func (m *Manager) HasChanged(ctx context.Context, path string, content []byte) (bool, error) {
	record, err := m.Record(ctx, path)
	if errors.Is(err, metadata.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	return hashing.HasChanged(m.hasher, record.FileHash, content), nil
}

// Extract runs extractor on the content of path and merges the result into the record.
func (m *Manager) Extract(ctx context.Context, path string, extractor Extractor, source string) (*extraction.ExtractionData, error) {
	if err := m.settle(ctx); err != nil {
		return nil, err
	}
	if extractor == nil {
		extractor = m.options.Extractor
	}
	if extractor == nil {
		return nil, ErrNoExtractor
	}

	download, err := m.backend.DownloadFile(ctx, path, nil, nil)
	if err != nil {
		return nil, err
	}

	payload, err := extractor.Extract(ctx, download.Item, download.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to extract '%s': %w", download.Item.Path, err)
	}

	return m.addExtraction(ctx, download.Item.Path, payload, source)
}

// RemoveExtraction drops one extraction of path and recalculates the merged data.
func (m *Manager) RemoveExtraction(ctx context.Context, path, extractionID string) (bool, error) {
	record, err := m.Record(ctx, path)
	if err != nil {
		return false, err
	}

	fileData, err := extraction.Parse(record.FileData)
	if err != nil {
		return false, err
	}
	if !fileData.RemoveByID(extractionID, m.options.MergeStrategy, true) {
		return false, nil
	}

	record.FileData = fileData.String()
	record.Touch()
	return true, m.store.Update(ctx, record)
}

// FileData returns the parsed extraction data of path.
func (m *Manager) FileData(ctx context.Context, path string) (*extraction.FileData, error) {
	record, err := m.Record(ctx, path)
	if err != nil {
		return nil, err
	}

	return extraction.Parse(record.FileData)
}

// Migrate upgrades the record store schema to the latest generation.
func (m *Manager) Migrate(ctx context.Context) error {
	if err := m.settle(ctx); err != nil {
		return err
	}

	if err := m.store.Migrate(ctx); err != nil {
		return err
	}

	m.logger.Info("Migrated %s store to generation %d", m.store.Name(), m.store.Generation())
	return nil
}
