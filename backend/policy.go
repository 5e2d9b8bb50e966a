package backend

import (
	"io"
	"slices"
	"strings"

	"github.com/mwantia/vstore/data"
)

// WritePolicy is enforced before any write. Backends embed it by value.
type WritePolicy struct {
	// AllowedExtensions lists extensions like ".pdf", compared case-insensitively. Empty allows all.
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	// MaxFileSize in bytes, 0 is unlimited.
	MaxFileSize int64 `mapstructure:"max_file_size"`
}

// CheckExtension validates the extension of path against the allow-list.
func (p WritePolicy) CheckExtension(path string) error {
	if len(p.AllowedExtensions) == 0 {
		return nil
	}

	ext := data.Ext(path)
	allowed := slices.ContainsFunc(p.AllowedExtensions, func(candidate string) bool {
		candidate = strings.ToLower(candidate)
		if !strings.HasPrefix(candidate, ".") {
			candidate = "." + candidate
		}
		return candidate == ext
	})
	if !allowed {
		return data.NewError(data.KindExtensionNotAllowed, "upload", path, nil)
	}

	return nil
}

// CheckSize validates a known size, negative sizes are unknown and pass.
func (p WritePolicy) CheckSize(path string, size int64) error {
	if p.MaxFileSize > 0 && size > p.MaxFileSize {
		return data.NewError(data.KindFileTooLarge, "upload", path, nil)
	}

	return nil
}

// Check validates path and size.
func (p WritePolicy) Check(path string, size int64) error {
	if err := p.CheckExtension(path); err != nil {
		return err
	}

	return p.CheckSize(path, size)
}

// Limit caps r at MaxFileSize. Reading past the limit fails with KindFileTooLarge,
// so streams of unknown length cannot exceed the policy.
func (p WritePolicy) Limit(path string, r io.Reader) io.Reader {
	if p.MaxFileSize <= 0 {
		return r
	}

	return &limitedReader{
		r:    r,
		path: path,
		left: p.MaxFileSize,
	}
}

type limitedReader struct {
	r    io.Reader
	path string
	left int64
}

func (l *limitedReader) Read(b []byte) (int, error) {
	if l.left < 0 {
		return 0, data.NewError(data.KindFileTooLarge, "upload", l.path, nil)
	}

	// Allow one byte beyond the limit to detect oversized streams
	if int64(len(b)) > l.left+1 {
		b = b[:l.left+1]
	}

	n, err := l.r.Read(b)
	l.left -= int64(n)
	if l.left < 0 {
		return n, data.NewError(data.KindFileTooLarge, "upload", l.path, nil)
	}

	return n, err
}
