package catalog

import "math"

// Bit widths shared with the read-identifier space. They are part of the
// on-disk format and recorded in the info block as fingerprints.
const (
	MaxLibrariesBits = 6
	MaxReadLenBits   = 21
	MaxReadsBits     = 64 - MaxReadLenBits - MaxLibrariesBits

	// MaxLibraries is the largest library identifier.
	MaxLibraries = 1<<MaxLibrariesBits - 1

	// MaxReadLen is the longest sequence a read may hold.
	MaxReadLen = 1<<MaxReadLenBits - 1

	// MaxReads is the largest read identifier. Identifiers are uint32 in
	// memory, which is tighter than the bit budget.
	MaxReads = min(1<<MaxReadsBits-1, math.MaxUint32)

	// LibraryNameSize is the fixed width of a library name on disk.
	LibraryNameSize = 128
)

// readLen + libraryID + readCount bits must fill exactly 64 bits.
var (
	_ [64 - (MaxReadLenBits + MaxLibrariesBits + MaxReadsBits)]struct{}
	_ [(MaxReadLenBits + MaxLibrariesBits + MaxReadsBits) - 64]struct{}
)

const (
	// LibraryRecordSize is the encoded size of a LibraryRecord.
	LibraryRecordSize = 4 + 4 + LibraryNameSize

	locatorSize = 24

	// ReadRecordSize is the encoded size of a ReadRecord.
	ReadRecordSize = 16 + NumGenerations*locatorSize
)
