package store

import "errors"

var (
	// ErrNotFound is returned by Load when no state exists for the key.
	ErrNotFound = errors.New("vehicle state not found")
	// ErrCorruptState marks a state source that could not be decoded.
	ErrCorruptState = errors.New("vehicle state is corrupt")
)
