// Package info implements the store's info block.
//
// The info block is the durable singleton holding format identity and the
// aggregate counters. Writing it (atomically, via rename) is the completion
// marker of every catalog flush: a catalog generation only exists once an
// info block naming it is on disk.
//
// # Binary Format
//
//	Header (48 bytes):
//	  Magic            (8 bytes)
//	  Version          (8 bytes)
//	  LibrarySize      (4 bytes) - encoded library record size
//	  ReadSize         (4 bytes) - encoded read record size
//	  MaxLibrariesBits (4 bytes)
//	  LibraryNameSize  (4 bytes)
//	  MaxReadsBits     (4 bytes)
//	  MaxReadLenBits   (4 bytes)
//	  PayloadLength    (4 bytes)
//	  Checksum         (4 bytes) - CRC32-IEEE of payload
//
//	Payload:
//	  Generation      (8 bytes)
//	  NumLibraries    (4 bytes)
//	  NumReads        (4 bytes)
//	  NumBlobs        (4 bytes)
//	  RawReads, CorrectedReads, TrimmedReads (4 bytes each)
//	  RawBases, CorrectedBases, TrimmedBases (8 bytes each)
//	  UpdatedAt       (8 bytes) - Unix nanoseconds
//
// Magic, version and fingerprints are validated before the checksum, so a
// build with a different record layout always reports ErrIncompatibleFormat
// rather than a checksum failure.
package info
