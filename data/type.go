package data

// ItemType identifies the kind of item addressed by a virtual path.
type ItemType string

const (
	ItemTypeFile   ItemType = "file"
	ItemTypeFolder ItemType = "folder"
)

func (t ItemType) IsFile() bool {
	return t == ItemTypeFile
}

func (t ItemType) IsFolder() bool {
	return t == ItemTypeFolder
}
