package metadata

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/mwantia/vstore/data"
)

// Status is the persisted lifecycle state of a record.
type Status string

const (
	StatusActive      Status = "active"
	StatusOrphaned    Status = "orphaned"
	StatusSoftDeleted Status = "soft_deleted"
	StatusMissing     Status = "missing"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusOrphaned, StatusSoftDeleted, StatusMissing:
		return true
	}
	return false
}

// FileRef is a reference from an external entity to a tracked file.
type FileRef struct {
	RefID      string         `json:"ref_id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	CreatedAt  time.Time      `json:"created_at"`
	CreatedBy  string         `json:"created_by,omitempty"`
	Visibility string         `json:"visibility,omitempty"`
	Label      string         `json:"label,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Record is the metadata row of one virtual path on one storage backend.
type Record struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	FileType    string    `json:"file_type"`
	FileData    string    `json:"file_data,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ChangedAt   time.Time `json:"changed_at"`
	FilePath    string    `json:"file_path"`
	StorageType string    `json:"storage_type"`

	// Empty for folders
	FileHash          string     `json:"file_hash,omitempty"`
	FileSize          int64      `json:"file_size"`
	FileChangedAt     *time.Time `json:"file_changed_at,omitempty"`
	FileRefs          []FileRef  `json:"file_refs"`
	RefCount          int        `json:"ref_count"`
	Status            Status     `json:"status"`
	ScopeID           string     `json:"scope_id,omitempty"`
	UploadedBy        string     `json:"uploaded_by,omitempty"`
	OriginalFilename  string     `json:"original_filename,omitempty"`
	StorageVerifiedAt *time.Time `json:"storage_verified_at,omitempty"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty"`
}

// NewRecord creates an active record describing item as stored by storageType.
func NewRecord(item data.Item, storageType string) *Record {
	info := item.Info()
	now := data.Now()

	r := &Record{
		ID:               data.NewID(),
		Filename:         info.Name,
		FileType:         string(info.Type),
		CreatedAt:        now,
		ChangedAt:        now,
		FilePath:         info.Path,
		StorageType:      storageType,
		FileSize:         data.SizeOf(item),
		FileRefs:         make([]FileRef, 0),
		Status:           StatusActive,
		OriginalFilename: info.Name,
	}
	if !info.ModifiedAt.IsZero() {
		changed := info.ModifiedAt.UTC().Truncate(time.Millisecond)
		r.FileChangedAt = &changed
	}

	return r
}

// Normalize restores the record invariants before a write: the path is canonical and
// RefCount equals the number of refs.
func (r *Record) Normalize() {
	r.FilePath = data.Normalize(r.FilePath)
	if r.FileRefs == nil {
		r.FileRefs = make([]FileRef, 0)
	}
	r.RefCount = len(r.FileRefs)
	if r.Status == "" {
		r.Status = StatusActive
	}
	if r.Filename == "" {
		r.Filename = data.Base(r.FilePath)
	}
}

// IsFolder reports whether the record describes a folder.
func (r *Record) IsFolder() bool {
	return data.ItemType(r.FileType).IsFolder()
}

// IsOrphaned is the orphan predicate: no refs and not soft deleted.
func (r *Record) IsOrphaned() bool {
	return r.RefCount == 0 && r.Status != StatusSoftDeleted
}

// EffectiveStatus reports orphaned for records matching the orphan predicate.
// The stored status is left untouched.
func (r *Record) EffectiveStatus() Status {
	if r.Status == StatusActive && r.IsOrphaned() {
		return StatusOrphaned
	}
	return r.Status
}

// Touch stamps ChangedAt.
func (r *Record) Touch() {
	r.ChangedAt = data.Now()
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	c := *r
	c.FileChangedAt = cloneTime(r.FileChangedAt)
	c.StorageVerifiedAt = cloneTime(r.StorageVerifiedAt)
	c.DeletedAt = cloneTime(r.DeletedAt)

	c.FileRefs = make([]FileRef, len(r.FileRefs))
	for i, ref := range r.FileRefs {
		ref.Metadata = maps.Clone(ref.Metadata)
		c.FileRefs[i] = ref
	}

	return &c
}

// HasRef reports whether a ref for the given entity exists.
func (r *Record) HasRef(entityType, entityID string) bool {
	return slices.ContainsFunc(r.FileRefs, func(ref FileRef) bool {
		return ref.EntityType == entityType && ref.EntityID == entityID
	})
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// EncodeRefs serializes refs for the file_refs column.
func EncodeRefs(refs []FileRef) (string, error) {
	if refs == nil {
		refs = make([]FileRef, 0)
	}

	b, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("failed to encode file refs: %w", err)
	}

	return string(b), nil
}

// DecodeRefs parses the file_refs column. Empty or NULL yields no refs.
func DecodeRefs(raw string) ([]FileRef, error) {
	refs := make([]FileRef, 0)
	if raw == "" || raw == "null" {
		return refs, nil
	}

	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil, fmt.Errorf("failed to decode file refs: %w", err)
	}

	return refs, nil
}
