// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBlobNotFound is returned when nothing has been persisted yet.
	ErrBlobNotFound = &StorageError{Message: "conversation blob not found"}

	// ErrCorrupt is returned when the blob cannot be decoded.
	ErrCorrupt = &StorageError{Message: "conversation blob is corrupt"}

	// ErrUnsupportedVersion is returned for envelopes written by a newer release.
	ErrUnsupportedVersion = &StorageError{Message: "unsupported envelope version"}

	// ErrInvalidKey is returned for keys of the wrong length.
	ErrInvalidKey = &StorageError{Message: "invalid encryption key"}
)

// StorageError is a storage failure. Errors with the same Message match
// under errors.Is regardless of Cause.
type StorageError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is support for comparing storage errors.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

func wrap(sentinel *StorageError, cause error) error {
	return &StorageError{Message: sentinel.Message, Cause: cause}
}
