// Package sqstore is the persistent read store of a genome-assembly
// pipeline.
//
// For every imported sequencing read the store keeps fixed-size metadata
// (library, clear range, flags, payload locators) in an in-memory catalog and
// the payload (name, sequence, quality) in append-only blob files. Later
// pipeline stages split the reads into disjoint partitions and process them in
// parallel.
//
// # Quick Start
//
//	s, _ := sqstore.Open("./reads.sqStore", sqstore.ModeCreate)
//	lib, _ := s.AddEmptyLibrary("pacbio-run-1")
//	b, _ := s.AddEmptyRead(lib.ID)
//	b.SetName("read1").SetSequence([]byte("ACGT"), []byte("IIII"))
//	_, _ = b.Commit()
//	_ = s.Close()
//
//	s, _ = sqstore.Open("./reads.sqStore", sqstore.ModeReadOnly)
//	r, _ := s.GetRead(1)
//	data, _ := s.LoadReadData(r)
//
// # Open Modes
//
//   - ModeCreate: make a new store; fails with ErrModeConflict if one exists.
//   - ModeExtend: add libraries, reads and payload generations.
//   - ModeReadOnly: load only; no lock, any number of concurrent openers.
//   - ModePartitionBuild: run BuildPartitions once.
//   - OpenPartition: read-only view of one partition.
//
// Writable modes take an exclusive flock on <path>/LOCK; a second writer
// gets ErrLocked.
//
// # Durability Model
//
// Catalog changes live in memory until Flush or Close, which write the
// catalog as a new generation and then atomically replace the info block
// that names it. A crash before that point loses the session's changes and
// keeps the previous generation intact.
//
// # On-Disk Layout
//
//	LOCK                  advisory writer lock
//	info                  info block (atomic rename)
//	libraries.NNNNNN      library records of catalog generation N
//	reads.NNNNNN          read records of catalog generation N
//	blobs.NNNN            append-only payload files
//	partitions/map        partition tables, written last
//	partitions/index.NNNN local locator index of partition NNNN
//	partitions/blobs.NNNN payloads of partition NNNN
//
// All integers are little-endian.
package sqstore
