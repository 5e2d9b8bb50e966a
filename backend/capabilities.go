package backend

import "slices"

// Capability represents optional behaviour a backend can provide.
type Capability string

const (
	// Moves are a single remote operation instead of copy and delete
	CapabilityNativeMove Capability = "native_move"
	// GetFolderTree is served without one listing per folder
	CapabilityFolderTree Capability = "folder_tree"
	// Uploads of unknown length are streamed instead of buffered
	CapabilityStreaming Capability = "streaming"
	// Item ids are stable across renames
	CapabilityStableIDs Capability = "stable_ids"
	// Directories exist on their own, not only as prefixes of files
	CapabilityDirectories Capability = "directories"
)

// Capabilities describes what a backend supports.
type Capabilities struct {
	Capabilities  []Capability `json:"capabilities"`
	MaxObjectSize int64        `json:"max_object_size"`
}

// Contains checks if a capability is supported.
func (c *Capabilities) Contains(capability Capability) bool {
	return c != nil && slices.Contains(c.Capabilities, capability)
}
