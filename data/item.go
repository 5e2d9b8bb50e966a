package data

import (
	"time"
)

// Metadata keys used by backends to carry native fields.
const (
	MetadataDriveID      = "drive_id"
	MetadataWebViewLink  = "web_view_link"
	MetadataMD5Checksum  = "md5_checksum"
	MetadataMimeType     = "mime_type"
	MetadataETag         = "etag"
	MetadataPhysicalPath = "physical_path"
)

// ItemInfo holds the fields shared by files and folders.
type ItemInfo struct {
	ID         string            `json:"id"`
	Type       ItemType          `json:"type"`
	Name       string            `json:"name"`
	Path       string            `json:"path"`
	CreatedAt  time.Time         `json:"created_at"`
	ModifiedAt time.Time         `json:"modified_at"`
	ParentID   string            `json:"parent_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Item is either a *FileItem or a *FolderItem.
type Item interface {
	Info() *ItemInfo
	IsFolder() bool
}

type FileItem struct {
	ItemInfo
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

type FolderItem struct {
	ItemInfo
	Children []Item `json:"children,omitempty"`
}

func (f *FileItem) Info() *ItemInfo {
	return &f.ItemInfo
}

func (f *FileItem) IsFolder() bool {
	return false
}

func (f *FolderItem) Info() *ItemInfo {
	return &f.ItemInfo
}

func (f *FolderItem) IsFolder() bool {
	return true
}

// NewFileItem creates a file item with a normalized path.
func NewFileItem(id, p string, size int64, mimeType string, modified time.Time) *FileItem {
	p = Normalize(p)
	return &FileItem{
		ItemInfo: ItemInfo{
			ID:         id,
			Type:       ItemTypeFile,
			Name:       Base(p),
			Path:       p,
			CreatedAt:  modified,
			ModifiedAt: modified,
			Metadata:   make(map[string]string),
		},
		Size:     size,
		MimeType: mimeType,
	}
}

// NewFolderItem creates a folder item with a normalized path.
func NewFolderItem(id, p string, modified time.Time) *FolderItem {
	p = Normalize(p)
	return &FolderItem{
		ItemInfo: ItemInfo{
			ID:         id,
			Type:       ItemTypeFolder,
			Name:       Base(p),
			Path:       p,
			CreatedAt:  modified,
			ModifiedAt: modified,
			Metadata:   make(map[string]string),
		},
	}
}

// SizeOf returns the size of a file item and 0 for folders.
func SizeOf(item Item) int64 {
	if file, ok := item.(*FileItem); ok {
		return file.Size
	}

	return 0
}

// MimeTypeOf returns the mime type of a file item and the directory type for folders.
func MimeTypeOf(item Item) string {
	if file, ok := item.(*FileItem); ok {
		return file.MimeType
	}

	return string(ContentTypeDirectory)
}

// TreeNode is a folder entry of a folder tree.
type TreeNode struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Children []*TreeNode `json:"children"`
}
