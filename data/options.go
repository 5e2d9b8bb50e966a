package data

import "path"

// ProgressFunc receives transfer progress. It is only called when the total size is known.
type ProgressFunc func(percent float64, bytesSoFar, totalBytes int64)

// WriteOptions configures uploads, downloads, moves and renames.
type WriteOptions struct {
	Overwrite  bool
	OnProgress ProgressFunc
	Metadata   map[string]string
}

// ListOptions configures directory listings.
type ListOptions struct {
	Recursive     bool
	IncludeHidden bool
	// Pattern is a glob matched against the item name.
	Pattern string
	Filter  func(Item) bool
}

// IsHidden reports whether name starts with a dot.
func IsHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

// Match reports whether item passes Pattern and Filter. Hidden handling is up to the lister,
// since hidden directories are not descended into either.
func (o ListOptions) Match(item Item) bool {
	if o.Pattern != "" {
		ok, err := path.Match(o.Pattern, item.Info().Name)
		if err != nil || !ok {
			return false
		}
	}
	if o.Filter != nil && !o.Filter(item) {
		return false
	}

	return true
}
