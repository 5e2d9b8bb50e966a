package vstore

import "errors"

var (
	// ErrTrackingDisabled is returned by metadata operations of a manager without record store.
	ErrTrackingDisabled = errors.New("vstore: metadata tracking is disabled")
	ErrManagerClosed    = errors.New("vstore: manager closed")
	ErrNoExtractor      = errors.New("vstore: no extractor configured")
)
