package data

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	errNullByte  = errors.New("path contains null byte")
	errTraversal = errors.New("path escapes base directory")
	errBadName   = errors.New("name must be a single path segment")
)

// NewID returns a new time-ordered identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Now returns the current time truncated to milliseconds, the precision persisted by record stores.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
