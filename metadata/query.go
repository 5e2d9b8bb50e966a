package metadata

import (
	"cmp"
	"slices"
	"strings"

	"github.com/mwantia/vstore/data"
)

// RecordQuery selects records. Zero-valued fields do not filter.
type RecordQuery struct {
	StorageType string `json:"storage_type,omitempty"`

	// PathPrefix matches the path itself and everything below it
	PathPrefix string `json:"path_prefix,omitempty"`

	Statuses []Status `json:"statuses,omitempty"`
	ScopeID  string   `json:"scope_id,omitempty"`
	FileType string   `json:"file_type,omitempty"`

	// Ref-level filters, a record matches when one of its refs matches both
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`

	// MaxRefCount filters records with at most this many refs
	MaxRefCount *int `json:"max_ref_count,omitempty"`

	// Match custom predicate applied after all other filters
	Match func(*Record) bool `json:"-"`

	Limit  int `json:"limit"`
	Offset int `json:"offset"`

	SortBy    SortField `json:"sort_by"`
	SortOrder SortOrder `json:"sort_order"`
}

type SortField string

const (
	SortByPath      SortField = "file_path"
	SortByChangedAt SortField = "changed_at"
	SortByCreatedAt SortField = "created_at"
	SortBySize      SortField = "file_size"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Matches reports whether r passes every filter of q.
func (q *RecordQuery) Matches(r *Record) bool {
	if q == nil {
		return true
	}
	if q.StorageType != "" && r.StorageType != q.StorageType {
		return false
	}
	if q.PathPrefix != "" && !data.HasPathPrefix(r.FilePath, data.Normalize(q.PathPrefix)) {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, r.Status) {
		return false
	}
	if q.ScopeID != "" && r.ScopeID != q.ScopeID {
		return false
	}
	if q.FileType != "" && r.FileType != q.FileType {
		return false
	}
	if q.EntityType != "" || q.EntityID != "" {
		if !slices.ContainsFunc(r.FileRefs, func(ref FileRef) bool {
			return (q.EntityType == "" || ref.EntityType == q.EntityType) &&
				(q.EntityID == "" || ref.EntityID == q.EntityID)
		}) {
			return false
		}
	}
	if q.MaxRefCount != nil && r.RefCount > *q.MaxRefCount {
		return false
	}
	if q.Match != nil && !q.Match(r) {
		return false
	}

	return true
}

// ApplyQuery filters, sorts and paginates candidates.
func ApplyQuery(candidates []*Record, q *RecordQuery) []*Record {
	filtered := make([]*Record, 0, len(candidates))
	for _, r := range candidates {
		if q.Matches(r) {
			filtered = append(filtered, r)
		}
	}
	if q == nil {
		return filtered
	}

	SortRecords(filtered, q.SortBy, q.SortOrder)

	if q.Offset > 0 {
		if q.Offset >= len(filtered) {
			return filtered[:0]
		}
		filtered = filtered[q.Offset:]
	}
	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}

	return filtered
}

// SortRecords sorts in place, by path when field is empty.
func SortRecords(records []*Record, field SortField, order SortOrder) {
	compare := func(a, b *Record) int {
		var c int
		switch field {
		case SortByChangedAt:
			c = a.ChangedAt.Compare(b.ChangedAt)
		case SortByCreatedAt:
			c = a.CreatedAt.Compare(b.CreatedAt)
		case SortBySize:
			c = cmp.Compare(a.FileSize, b.FileSize)
		}
		if c == 0 {
			c = strings.Compare(a.FilePath, b.FilePath)
		}
		if c == 0 {
			c = strings.Compare(a.StorageType, b.StorageType)
		}
		if order == SortDesc {
			return -c
		}
		return c
	}

	slices.SortStableFunc(records, compare)
}
