// Package mmap maps partition blob files read-only into memory.
//
// A partition-restricted store serves every payload load from its single
// partition blob file; mapping it avoids a pread per load and lets concurrent
// loads share pages without borrowing file handles.
//
// Slices returned by a Mapping are valid until Close. Mapping is safe for
// concurrent readers; Close is idempotent.
package mmap
