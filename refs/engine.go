// Package refs tracks which entities reference a stored file.
//
// A record with no refs is orphaned unless it is soft deleted. Orphaned is derived at
// query time and never written, so it cannot drift from the ref list.
package refs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwantia/vstore/data"
	"github.com/mwantia/vstore/metadata"
)

var ErrInvalidRef = errors.New("vstore: ref requires entity type and entity id")

// Ref describes a new reference.
type Ref struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	CreatedBy  string         `json:"created_by,omitempty"`
	Visibility string         `json:"visibility,omitempty"`
	Label      string         `json:"label,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Criteria selects refs to remove. Set fields are AND-ed.
// FileID and ScopeID select records, EntityType and EntityID select refs within them.
type Criteria struct {
	FileID     string `json:"file_id,omitempty"`
	ScopeID    string `json:"scope_id,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
}

// IsEmpty reports whether no field is set. Empty criteria remove nothing.
func (c Criteria) IsEmpty() bool {
	return c.FileID == "" && c.ScopeID == "" && c.EntityType == "" && c.EntityID == ""
}

func (c Criteria) matchesRecord(r *metadata.Record) bool {
	return (c.FileID == "" || r.ID == c.FileID) && (c.ScopeID == "" || r.ScopeID == c.ScopeID)
}

func (c Criteria) matchesRef(ref metadata.FileRef) bool {
	return (c.EntityType == "" || ref.EntityType == c.EntityType) && (c.EntityID == "" || ref.EntityID == c.EntityID)
}

// OrphanFilter narrows FindOrphaned. Zero fields do not filter.
type OrphanFilter struct {
	StorageType string
	ScopeID     string
	PathPrefix  string

	// ChangedBefore only returns records not changed since
	ChangedBefore  time.Time
	IncludeFolders bool
}

// Engine applies reference changes to records of a RecordStore.
type Engine struct {
	store metadata.RecordStore
	now   func() time.Time
}

func NewEngine(store metadata.RecordStore) *Engine {
	return &Engine{
		store: store,
		now:   data.Now,
	}
}

// supported fails on stores whose schema cannot persist refs and status.
func (e *Engine) supported() error {
	if e.store.Generation() < metadata.Generation2 {
		return metadata.ErrMigrationRequired
	}
	return nil
}

func (e *Engine) load(ctx context.Context, fileID string) (*metadata.Record, error) {
	if err := e.supported(); err != nil {
		return nil, err
	}

	record, err := e.store.GetByID(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load record '%s': %w", fileID, err)
	}
	return record, nil
}

func (e *Engine) save(ctx context.Context, record *metadata.Record) error {
	record.ChangedAt = e.now()
	record.Normalize()

	if err := e.store.Update(ctx, record); err != nil {
		return fmt.Errorf("failed to update record '%s': %w", record.ID, err)
	}
	return nil
}

// AddRef appends a reference and marks the record active, clearing a soft delete.
func (e *Engine) AddRef(ctx context.Context, fileID string, ref Ref) (*metadata.FileRef, error) {
	if ref.EntityType == "" || ref.EntityID == "" {
		return nil, ErrInvalidRef
	}

	record, err := e.load(ctx, fileID)
	if err != nil {
		return nil, err
	}

	fileRef := metadata.FileRef{
		RefID:      data.NewID(),
		EntityType: ref.EntityType,
		EntityID:   ref.EntityID,
		CreatedAt:  e.now(),
		CreatedBy:  ref.CreatedBy,
		Visibility: ref.Visibility,
		Label:      ref.Label,
		Metadata:   ref.Metadata,
	}

	record.FileRefs = append(record.FileRefs, fileRef)
	record.Status = metadata.StatusActive
	record.DeletedAt = nil

	if err := e.save(ctx, record); err != nil {
		return nil, err
	}
	return &fileRef, nil
}

// RemoveRef drops the ref with refID. It reports whether a ref was removed.
// The status is left untouched, a record without refs becomes orphaned by derivation.
func (e *Engine) RemoveRef(ctx context.Context, fileID, refID string) (bool, error) {
	record, err := e.load(ctx, fileID)
	if err != nil {
		return false, err
	}

	kept := make([]metadata.FileRef, 0, len(record.FileRefs))
	for _, ref := range record.FileRefs {
		if ref.RefID != refID {
			kept = append(kept, ref)
		}
	}
	if len(kept) == len(record.FileRefs) {
		return false, nil
	}

	record.FileRefs = kept
	return true, e.save(ctx, record)
}

// RemoveRefsByCriteria removes every ref matching c and returns how many were removed.
// Without a FileID every record of the store is examined on its own.
func (e *Engine) RemoveRefsByCriteria(ctx context.Context, c Criteria) (int, error) {
	if c.IsEmpty() {
		return 0, nil
	}
	if err := e.supported(); err != nil {
		return 0, err
	}

	var records []*metadata.Record
	if c.FileID != "" {
		record, err := e.load(ctx, c.FileID)
		if err != nil {
			return 0, err
		}
		records = []*metadata.Record{record}
	} else {
		found, err := e.store.Query(ctx, &metadata.RecordQuery{
			ScopeID:    c.ScopeID,
			EntityType: c.EntityType,
			EntityID:   c.EntityID,
		})
		if err != nil {
			return 0, err
		}
		records = found
	}

	removed := 0
	var errs data.Errors
	for _, record := range records {
		if !c.matchesRecord(record) {
			continue
		}

		kept := make([]metadata.FileRef, 0, len(record.FileRefs))
		for _, ref := range record.FileRefs {
			if !c.matchesRef(ref) {
				kept = append(kept, ref)
			}
		}

		count := len(record.FileRefs) - len(kept)
		if count == 0 {
			continue
		}

		record.FileRefs = kept
		if err := e.save(ctx, record); err != nil {
			errs.Add(err)
			continue
		}
		removed += count
	}

	return removed, errs.Errors()
}

// Refs returns the refs of a record.
func (e *Engine) Refs(ctx context.Context, fileID string) ([]metadata.FileRef, error) {
	record, err := e.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return record.FileRefs, nil
}

// FindByEntity returns the records referenced by the given entity.
func (e *Engine) FindByEntity(ctx context.Context, entityType, entityID string) ([]*metadata.Record, error) {
	if entityType == "" || entityID == "" {
		return nil, ErrInvalidRef
	}
	if err := e.supported(); err != nil {
		return nil, err
	}

	return e.store.Query(ctx, &metadata.RecordQuery{
		EntityType: entityType,
		EntityID:   entityID,
	})
}

// FindOrphaned scans the store for records without refs that are not soft deleted.
func (e *Engine) FindOrphaned(ctx context.Context, filter OrphanFilter) ([]*metadata.Record, error) {
	if err := e.supported(); err != nil {
		return nil, err
	}

	records, err := e.store.Query(ctx, &metadata.RecordQuery{
		StorageType: filter.StorageType,
		ScopeID:     filter.ScopeID,
		PathPrefix:  filter.PathPrefix,
	})
	if err != nil {
		return nil, err
	}

	orphaned := make([]*metadata.Record, 0)
	for _, record := range records {
		if !record.IsOrphaned() {
			continue
		}
		if record.IsFolder() && !filter.IncludeFolders {
			continue
		}
		if !filter.ChangedBefore.IsZero() && !record.ChangedAt.Before(filter.ChangedBefore) {
			continue
		}
		orphaned = append(orphaned, record)
	}

	return orphaned, nil
}

// SoftDelete marks a record deleted while keeping the row and its refs.
func (e *Engine) SoftDelete(ctx context.Context, fileID string) (*metadata.Record, error) {
	record, err := e.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if record.Status == metadata.StatusSoftDeleted {
		return record, nil
	}

	now := e.now()
	record.Status = metadata.StatusSoftDeleted
	record.DeletedAt = &now

	if err := e.save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Restore returns a soft deleted record to active.
func (e *Engine) Restore(ctx context.Context, fileID string) (*metadata.Record, error) {
	record, err := e.load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if record.Status != metadata.StatusSoftDeleted {
		return record, nil
	}

	record.Status = metadata.StatusActive
	record.DeletedAt = nil

	if err := e.save(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
