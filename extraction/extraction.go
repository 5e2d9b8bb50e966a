// Package extraction maintains the file_data payload of metadata records: an ordered list of
// raw extraction results and a merged view derived from them.
package extraction

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExtractionData is a single extraction result.
type ExtractionData struct {
	ID          string         `json:"id"`
	ExtractedAt time.Time      `json:"extracted_at"`
	Source      string         `json:"source,omitempty"`
	Data        map[string]any `json:"data"`
}

// FileData is the file_data payload. MergedData is a cache that can always be
// recomputed from RawData.
type FileData struct {
	MergedData map[string]any   `json:"merged_data"`
	RawData    []ExtractionData `json:"raw_data"`
}

// New returns an empty payload.
func New() *FileData {
	return &FileData{
		MergedData: make(map[string]any),
		RawData:    make([]ExtractionData, 0),
	}
}

// Parse decodes a stored payload. Empty input yields an empty payload.
func Parse(raw string) (*FileData, error) {
	fd := New()
	if raw == "" || raw == "null" {
		return fd, nil
	}

	if err := json.Unmarshal([]byte(raw), fd); err != nil {
		return nil, fmt.Errorf("failed to decode file data: %w", err)
	}
	if fd.MergedData == nil {
		fd.MergedData = make(map[string]any)
	}
	if fd.RawData == nil {
		fd.RawData = make([]ExtractionData, 0)
	}

	return fd, nil
}

// String encodes the payload for storage.
func (fd *FileData) String() string {
	b, err := json.Marshal(fd)
	if err != nil {
		return "{}"
	}

	return string(b)
}

// AddExtraction appends data as a new entry and recomputes the merged view over all entries.
func (fd *FileData) AddExtraction(data map[string]any, source string, strategy Strategy) ExtractionData {
	entry := ExtractionData{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ExtractedAt: time.Now().UTC(),
		Source:      source,
		Data:        deepCopy(data).(map[string]any),
	}
	if entry.Data == nil {
		entry.Data = make(map[string]any)
	}

	fd.RawData = append(fd.RawData, entry)
	fd.Recalculate(strategy)

	return entry
}

// RemoveByID drops the entry with id. The merged view is left stale when recalculate is false.
func (fd *FileData) RemoveByID(id string, strategy Strategy, recalculate bool) bool {
	for i, entry := range fd.RawData {
		if entry.ID == id {
			return fd.RemoveByIndex(i, strategy, recalculate)
		}
	}

	return false
}

// RemoveByIndex drops the entry at index. The merged view is left stale when recalculate is false.
func (fd *FileData) RemoveByIndex(index int, strategy Strategy, recalculate bool) bool {
	if index < 0 || index >= len(fd.RawData) {
		return false
	}

	fd.RawData = append(fd.RawData[:index:index], fd.RawData[index+1:]...)
	if recalculate {
		fd.Recalculate(strategy)
	}

	return true
}

// Recalculate rebuilds the merged view by folding all entries in insertion order.
func (fd *FileData) Recalculate(strategy Strategy) {
	payloads := make([]map[string]any, 0, len(fd.RawData))
	for _, entry := range fd.RawData {
		payloads = append(payloads, entry.Data)
	}

	fd.MergedData = Merge(strategy, payloads...)
}
