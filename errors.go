package sqstore

import (
	"errors"

	"github.com/hupe1980/sqstore/internal/errs"
	"github.com/hupe1980/sqstore/internal/fs"
	"github.com/hupe1980/sqstore/internal/info"
	"github.com/hupe1980/sqstore/internal/partition"
)

var (
	// ErrIncompatibleFormat is returned when the on-disk magic, version or a
	// record-size fingerprint does not match this build.
	ErrIncompatibleFormat = errs.ErrIncompatibleFormat

	// ErrCorrupt is returned when a checksum or structural check fails.
	ErrCorrupt = errs.ErrCorrupt

	// ErrModeConflict is returned when an operation is not allowed in the
	// store's open mode, or when creating over an existing store.
	ErrModeConflict = errors.New("operation not allowed in this mode")

	// ErrNotFound is returned when no store exists at the path.
	ErrNotFound = errs.ErrNotFound

	// ErrOutOfRange is returned for read or library identifiers that do not
	// exist.
	ErrOutOfRange = errs.ErrOutOfRange

	// ErrNotInPartition is returned when a partition-restricted store is
	// asked for a read of another partition.
	ErrNotInPartition = errors.New("read is not in this partition")

	// ErrCapacityExceeded is returned when the library or read identifier
	// space is exhausted.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrShortRead is returned when a blob file ends before a record does.
	ErrShortRead = errs.ErrShortRead

	// ErrIntegrityMismatch is returned when stored counters disagree with
	// the catalog.
	ErrIntegrityMismatch = info.ErrIntegrityMismatch

	// ErrLocked is returned when another writer holds the store.
	ErrLocked = fs.ErrLocked

	// ErrClosed is returned by every method of a closed store.
	ErrClosed = errors.New("store closed")

	// ErrAlreadyPartitioned is returned when building partitions twice.
	ErrAlreadyPartitioned = partition.ErrAlreadyPartitioned

	// ErrInvalidArgument is returned for malformed arguments.
	ErrInvalidArgument = errs.ErrInvalidArgument

	// ErrNoPayload is returned when a read holds none of the generations the
	// load policy allows.
	ErrNoPayload = errors.New("read has no payload")
)

// FormatError describes an incompatible info block. It unwraps to
// ErrIncompatibleFormat.
type FormatError = info.FormatError

// IntegrityError lists the counters that disagree with the catalog. It
// unwraps to ErrIntegrityMismatch.
type IntegrityError = info.IntegrityError

// Mismatch is one entry of an IntegrityError.
type Mismatch = info.Mismatch
