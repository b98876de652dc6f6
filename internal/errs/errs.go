// Package errs holds the sentinel errors shared by the store's internal
// layers. The root package re-exports them, so errors.Is works on any error
// the store returns regardless of which layer produced it.
package errs

import "errors"

var (
	// ErrIncompatibleFormat is returned when on-disk magic, version or a
	// structural fingerprint does not match this build.
	ErrIncompatibleFormat = errors.New("incompatible format")

	// ErrCorrupt is returned when data fails a checksum or structural check.
	ErrCorrupt = errors.New("data corruption detected")

	// ErrShortRead is returned when a file ends before a recorded length.
	ErrShortRead = errors.New("short read")

	// ErrOutOfRange is returned for identifiers outside the valid range.
	ErrOutOfRange = errors.New("identifier out of range")

	// ErrNotFound is returned when a store or file does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for malformed arguments.
	ErrInvalidArgument = errors.New("invalid argument")
)
