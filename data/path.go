package data

import (
	"path"
	"strings"
)

// Separator is the virtual path separator used by every backend.
const Separator = "/"

// Normalize returns the canonical form of a virtual path.
// Backslashes become slashes, repeated separators collapse and '.'/'..' segments
// are resolved lexically. The result is always absolute; "" yields "/".
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", Separator)
	if !strings.HasPrefix(p, Separator) {
		p = Separator + p
	}

	// path.Clean collapses separators and resolves dot segments without touching disk,
	// '..' above the root is dropped
	return path.Clean(p)
}

// Validate normalizes p and rejects embedded null bytes. When base is non-empty the
// path is resolved relative to base and must stay inside it.
func Validate(p, base string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", NewError(KindInvalidPath, "validate", p, errNullByte)
	}

	if base == "" {
		return Normalize(p), nil
	}
	if strings.ContainsRune(base, 0) {
		return "", NewError(KindInvalidPath, "validate", base, errNullByte)
	}

	root := Normalize(base)
	// Join textually so that '..' segments are resolved against the base, not the root
	joined := Normalize(root + Separator + strings.ReplaceAll(p, "\\", Separator))
	if !HasPathPrefix(joined, root) {
		return "", NewError(KindInvalidPath, "validate", p, errTraversal)
	}

	return joined, nil
}

// HasPathPrefix reports whether p equals prefix or lies below it.
// Both paths must be normalized.
func HasPathPrefix(p, prefix string) bool {
	if prefix == Separator {
		return true
	}
	if p == prefix {
		return true
	}

	return strings.HasPrefix(p, prefix+Separator)
}

// Join joins segments onto a virtual path and normalizes the result.
func Join(elem ...string) string {
	return Normalize(strings.Join(elem, Separator))
}

// Dir returns the parent directory of a virtual path. The parent of "/" is "/".
func Dir(p string) string {
	return path.Dir(Normalize(p))
}

// Base returns the last segment of a virtual path, "" for the root.
func Base(p string) string {
	p = Normalize(p)
	if p == Separator {
		return ""
	}

	return path.Base(p)
}

// Ext returns the lower-case extension of the last segment including the dot.
func Ext(p string) string {
	return strings.ToLower(path.Ext(Base(p)))
}

// Split returns the non-empty segments of a virtual path.
func Split(p string) []string {
	p = Normalize(p)
	if p == Separator {
		return nil
	}

	return strings.Split(strings.TrimPrefix(p, Separator), Separator)
}

// Rebase moves p from below oldPrefix to below newPrefix.
// It returns p unchanged when it is not below oldPrefix.
func Rebase(p, oldPrefix, newPrefix string) string {
	p, oldPrefix, newPrefix = Normalize(p), Normalize(oldPrefix), Normalize(newPrefix)
	if !HasPathPrefix(p, oldPrefix) {
		return p
	}

	rel := strings.TrimPrefix(p, oldPrefix)
	return Normalize(newPrefix + Separator + rel)
}

// ToRelativePath strips the leading separator, e.g. for joining onto a physical root.
func ToRelativePath(p string) string {
	return strings.TrimPrefix(Normalize(p), Separator)
}

// ValidateName checks that name is usable as a single path segment.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return NewError(KindInvalidPath, "validate", name, errBadName)
	case strings.ContainsAny(name, "/\\"):
		return NewError(KindInvalidPath, "validate", name, errBadName)
	case strings.ContainsRune(name, 0):
		return NewError(KindInvalidPath, "validate", name, errNullByte)
	}

	return nil
}
