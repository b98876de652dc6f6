package sqstore

import (
	"fmt"

	"github.com/hupe1980/sqstore/internal/catalog"
)

// Format limits.
const (
	// MaxLibraries is the largest library identifier.
	MaxLibraries = catalog.MaxLibraries
	// MaxReadLen is the longest sequence a read may hold.
	MaxReadLen = catalog.MaxReadLen
	// MaxReads is the largest read identifier.
	MaxReads = catalog.MaxReads
	// LibraryNameSize is the longest library name in bytes.
	LibraryNameSize = catalog.LibraryNameSize
)

// Mode is the access mode a store is opened in.
type Mode int

const (
	// ModeCreate creates a new store; it fails if one exists.
	ModeCreate Mode = iota
	// ModeExtend opens an existing store for adding and updating reads.
	ModeExtend
	// ModeReadOnly opens an existing store for loading only.
	ModeReadOnly
	// ModePartitionBuild opens an existing store to build partitions.
	ModePartitionBuild
	// ModePartition is the read-only mode of OpenPartition.
	ModePartition
)

func (m Mode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeExtend:
		return "extend"
	case ModeReadOnly:
		return "read-only"
	case ModePartitionBuild:
		return "partition-build"
	case ModePartition:
		return "partition"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) writable() bool {
	return m == ModeCreate || m == ModeExtend || m == ModePartitionBuild
}

// Generation identifies one version of a read's payload.
type Generation = catalog.Generation

const (
	GenerationRaw       = catalog.Raw
	GenerationCorrected = catalog.Corrected
	GenerationTrimmed   = catalog.Trimmed
)

// LibraryFlags are per-library processing hints.
type LibraryFlags uint32

const (
	TrimByDefault    = LibraryFlags(catalog.LibraryTrimByDefault)
	CorrectByDefault = LibraryFlags(catalog.LibraryCorrectByDefault)
	CheckForSubReads = LibraryFlags(catalog.LibraryCheckForSubReads)
)

// Library describes one sequencing library.
type Library struct {
	ID    uint32
	Name  string
	Flags LibraryFlags
}

// PartitionID names a partition. Partitions are numbered from 1; 0 means
// "not partitioned".
type PartitionID uint32

// Read is a snapshot of one read's metadata.
type Read struct {
	ID         uint32
	Library    uint32
	ClearBegin uint32
	ClearEnd   uint32
	Ignored    bool

	lengths [catalog.NumGenerations]uint32
	present [catalog.NumGenerations]bool
	visible Generation
	hasData bool
}

func newRead(id uint32, rec *catalog.ReadRecord, policy []Generation) Read {
	r := Read{
		ID:         id,
		Library:    rec.Library,
		ClearBegin: rec.ClearBegin,
		ClearEnd:   rec.ClearEnd,
		Ignored:    rec.Ignored(),
	}
	for g, loc := range rec.Blobs {
		r.lengths[g] = loc.SeqLen
		r.present[g] = loc.Present()
	}
	r.visible, r.hasData = pickGeneration(rec, policy)
	return r
}

func pickGeneration(rec *catalog.ReadRecord, policy []Generation) (Generation, bool) {
	for _, g := range policy {
		if g.Valid() && rec.Blobs[g].Present() {
			return g, true
		}
	}
	return 0, false
}

// Length returns the sequence length of the generation loads would return,
// or 0 when the read has no payload.
func (r Read) Length() uint32 {
	if !r.hasData {
		return 0
	}
	return r.lengths[r.visible]
}

// Generation returns the generation loads would return.
func (r Read) Generation() (Generation, bool) { return r.visible, r.hasData }

// HasGeneration reports whether the read holds payload generation g.
func (r Read) HasGeneration(g Generation) bool { return g.Valid() && r.present[g] }

// GenerationLength returns the sequence length of generation g.
func (r Read) GenerationLength(g Generation) uint32 {
	if !r.HasGeneration(g) {
		return 0
	}
	return r.lengths[g]
}

// ReadData is a loaded payload. It is owned by the caller.
type ReadData struct {
	Name       string
	Seq        []byte
	Qual       []byte
	Generation Generation
}

// Info is a snapshot of the store's info block.
type Info struct {
	Version        uint64
	Generation     uint64
	NumLibraries   uint32
	NumReads       uint32
	NumBlobs       uint32
	RawReads       uint32
	CorrectedReads uint32
	TrimmedReads   uint32
	RawBases       uint64
	CorrectedBases uint64
	TrimmedBases   uint64
}
