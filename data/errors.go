package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrorKind classifies expected failures returned by storage backends.
type ErrorKind string

const (
	KindFileNotFound        ErrorKind = "file_not_found"
	KindDirectoryNotFound   ErrorKind = "directory_not_found"
	KindFileExists          ErrorKind = "file_exists"
	KindDirectoryExists     ErrorKind = "directory_exists"
	KindDirectoryNotEmpty   ErrorKind = "directory_not_empty"
	KindNotDirectory        ErrorKind = "not_directory"
	KindIsDirectory         ErrorKind = "is_directory"
	KindFileTooLarge        ErrorKind = "file_too_large"
	KindExtensionNotAllowed ErrorKind = "extension_not_allowed"
	KindAuthFailed          ErrorKind = "authentication_failed"
	KindInvalidPath         ErrorKind = "invalid_path"
	KindConfiguration       ErrorKind = "configuration_error"
	KindInternal            ErrorKind = "internal"
)

var kindMessages = map[ErrorKind]string{
	KindFileNotFound:        "file does not exist",
	KindDirectoryNotFound:   "directory does not exist",
	KindFileExists:          "file already exists",
	KindDirectoryExists:     "directory already exists",
	KindDirectoryNotEmpty:   "directory not empty",
	KindNotDirectory:        "not a directory",
	KindIsDirectory:         "is a directory",
	KindFileTooLarge:        "file exceeds maximum size",
	KindExtensionNotAllowed: "file extension not allowed",
	KindAuthFailed:          "authentication failed",
	KindInvalidPath:         "invalid path",
	KindConfiguration:       "configuration error",
	KindInternal:            "unexpected storage failure",
}

// Sentinels for errors.Is matching. Only the kind is compared.
var (
	ErrFileNotFound        = &Error{Kind: KindFileNotFound}
	ErrDirectoryNotFound   = &Error{Kind: KindDirectoryNotFound}
	ErrFileExists          = &Error{Kind: KindFileExists}
	ErrDirectoryExists     = &Error{Kind: KindDirectoryExists}
	ErrDirectoryNotEmpty   = &Error{Kind: KindDirectoryNotEmpty}
	ErrNotDirectory        = &Error{Kind: KindNotDirectory}
	ErrIsDirectory         = &Error{Kind: KindIsDirectory}
	ErrFileTooLarge        = &Error{Kind: KindFileTooLarge}
	ErrExtensionNotAllowed = &Error{Kind: KindExtensionNotAllowed}
	ErrAuthFailed          = &Error{Kind: KindAuthFailed}
	ErrInvalidPath         = &Error{Kind: KindInvalidPath}
	ErrConfiguration       = &Error{Kind: KindConfiguration}
	ErrInternal            = &Error{Kind: KindInternal}
)

// Error is the typed failure returned by every backend operation.
type Error struct {
	Kind ErrorKind `json:"kind"`
	Op   string    `json:"op,omitempty"`
	Path string    `json:"path,omitempty"`
	Err  error     `json:"-"`
}

// NewError creates a typed error for op on path.
func NewError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{
		Kind: kind,
		Op:   op,
		Path: path,
		Err:  err,
	}
}

func (e *Error) Error() string {
	text := "vstore: "
	if e.Op != "" {
		text += e.Op + " "
	}
	if e.Path != "" {
		text += fmt.Sprintf("'%s' ", e.Path)
	}

	msg, ok := kindMessages[e.Kind]
	if !ok {
		msg = string(e.Kind)
	}
	text += msg

	// Internal failures keep a generic message, the cause stays reachable through Unwrap
	if e.Err != nil && e.Kind != KindInternal {
		text += ": " + e.Err.Error()
	}

	return text
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

// MarshalJSON includes the rendered message next to the kind.
func (e *Error) MarshalJSON() ([]byte, error) {
	type plain Error
	return json.Marshal(struct {
		*plain
		Message string `json:"message"`
	}{
		plain:   (*plain)(e),
		Message: e.Error(),
	})
}

// KindOf returns the kind of err, KindInternal for foreign errors and "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// IsNotFound reports whether err is a file or directory not-found failure.
func IsNotFound(err error) bool {
	kind := KindOf(err)
	return kind == KindFileNotFound || kind == KindDirectoryNotFound
}

// IsExists reports whether err is a file or directory already-exists failure.
func IsExists(err error) bool {
	kind := KindOf(err)
	return kind == KindFileExists || kind == KindDirectoryExists
}

// Wrap converts err into a typed error at the backend boundary.
// Typed errors pass through with op/path filled in when missing.
func Wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Op != "" && e.Path != "" {
			return e
		}

		clone := *e
		if clone.Op == "" {
			clone.Op = op
		}
		if clone.Path == "" {
			clone.Path = path
		}
		return &clone
	}

	return NewError(KindInternal, op, path, err)
}

// Errors collects multiple errors, e.g. from multi-object deletes.
type Errors struct {
	mu     sync.RWMutex
	errors []error
}

func (e *Errors) Add(err error) {
	if err == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.errors = append(e.errors, err)
}

func (e *Errors) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.errors)
}

func (e *Errors) Errors() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.errors) == 0 {
		return nil
	}

	return errors.Join(e.errors...)
}
