package sqstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/sqstore/internal/blob"
	"github.com/hupe1980/sqstore/internal/catalog"
)

// NumLibraries returns the number of libraries.
func (s *Store) NumLibraries() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.cat.NumLibraries()
}

// NumReads returns the number of reads in the store. A partition-restricted
// store reports the global count; see PartitionReads for its own reads.
func (s *Store) NumReads() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.cat.NumReads()
}

// NumRawReads returns the number of reads holding a raw payload.
func (s *Store) NumRawReads() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.info.RawReads
}

// NumCorrectedReads returns the number of reads holding a corrected payload.
func (s *Store) NumCorrectedReads() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.info.CorrectedReads
}

// NumTrimmedReads returns the number of reads holding a trimmed payload.
func (s *Store) NumTrimmedReads() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.info.TrimmedReads
}

// AddEmptyLibrary adds a library and returns it with its new identifier.
func (s *Store) AddEmptyLibrary(name string) (Library, error) {
	if len(name) > LibraryNameSize {
		return Library{}, fmt.Errorf("%w: library name of %d bytes exceeds %d", ErrInvalidArgument, len(name), LibraryNameSize)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return Library{}, fmt.Errorf("%w: library name contains NUL", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(ModeCreate, ModeExtend); err != nil {
		return Library{}, err
	}
	if s.cat.NumLibraries() >= MaxLibraries {
		return Library{}, fmt.Errorf("%w: store already holds %d libraries", ErrCapacityExceeded, MaxLibraries)
	}

	id := s.cat.AddLibrary(catalog.LibraryRecord{Name: name})
	s.info.NumLibraries = s.cat.NumLibraries()
	s.dirty = true
	return Library{ID: id, Name: name}, nil
}

// GetLibrary returns the library with the given identifier.
func (s *Store) GetLibrary(id uint32) (Library, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return Library{}, err
	}
	rec, ok := s.cat.Library(id)
	if !ok {
		return Library{}, fmt.Errorf("%w: library %d of %d", ErrOutOfRange, id, s.cat.NumLibraries())
	}
	return Library{ID: rec.ID, Name: rec.Name, Flags: LibraryFlags(rec.Flags)}, nil
}

// SetLibraryFlags replaces the flags of a library.
func (s *Store) SetLibraryFlags(id uint32, flags LibraryFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(ModeCreate, ModeExtend); err != nil {
		return err
	}
	rec, ok := s.cat.Library(id)
	if !ok {
		return fmt.Errorf("%w: library %d of %d", ErrOutOfRange, id, s.cat.NumLibraries())
	}
	rec.Flags = uint32(flags)
	s.dirty = true
	return nil
}

// ReadBuilder fills in a read allocated by AddEmptyRead. A read whose
// builder is never committed stays in the store with no payload.
type ReadBuilder struct {
	s         *Store
	id        uint32
	name      string
	seq       []byte
	qual      []byte
	committed bool
}

// AddEmptyRead allocates the next read identifier in library libraryID. A
// partitioned store fails with ErrAlreadyPartitioned: new reads would belong
// to no partition.
func (s *Store) AddEmptyRead(libraryID uint32) (*ReadBuilder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(ModeCreate, ModeExtend); err != nil {
		return nil, err
	}
	if err := s.checkUnpartitioned(); err != nil {
		return nil, err
	}
	if _, ok := s.cat.Library(libraryID); !ok {
		return nil, fmt.Errorf("%w: library %d of %d", ErrOutOfRange, libraryID, s.cat.NumLibraries())
	}
	if s.cat.NumReads() >= s.opts.readLimit {
		return nil, fmt.Errorf("%w: store already holds %d reads", ErrCapacityExceeded, s.opts.readLimit)
	}

	id := s.cat.AddRead(catalog.ReadRecord{Library: libraryID})
	s.info.NumReads = s.cat.NumReads()
	s.dirty = true
	return &ReadBuilder{s: s, id: id}, nil
}

// ID returns the identifier of the read being built.
func (b *ReadBuilder) ID() uint32 { return b.id }

// SetName sets the read name stored with the payload.
func (b *ReadBuilder) SetName(name string) *ReadBuilder {
	b.name = name
	return b
}

// SetSequence sets sequence and quality. qual must be empty or as long as
// seq. The slices are not retained past Commit.
func (b *ReadBuilder) SetSequence(seq, qual []byte) *ReadBuilder {
	b.seq, b.qual = seq, qual
	return b
}

// Commit writes the raw payload and finalizes the read. The clear range
// covers the whole sequence.
func (b *ReadBuilder) Commit() (Read, error) {
	start := time.Now()
	r, err := b.commit()
	b.s.opts.metrics.RecordAddRead(len(b.seq), time.Since(start), err)
	return r, err
}

func (b *ReadBuilder) commit() (Read, error) {
	if b.committed {
		return Read{}, fmt.Errorf("%w: read %d already committed", ErrInvalidArgument, b.id)
	}
	if err := validatePayload(b.seq, b.qual); err != nil {
		return Read{}, err
	}

	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(ModeCreate, ModeExtend); err != nil {
		return Read{}, err
	}

	loc, err := s.writer.Append(&blob.Data{Name: b.name, Seq: b.seq, Qual: b.qual})
	if err != nil {
		return Read{}, fmt.Errorf("failed to write read %d: %w", b.id, err)
	}

	rec, _ := s.cat.Read(b.id)
	s.setLocator(rec, catalog.Raw, loc)
	rec.ClearBegin, rec.ClearEnd = 0, uint32(len(b.seq))
	s.dirty = true
	b.committed = true
	return newRead(b.id, rec, s.opts.policy), nil
}

func validatePayload(seq, qual []byte) error {
	if len(seq) > MaxReadLen {
		return fmt.Errorf("%w: sequence of %d bases exceeds %d", ErrInvalidArgument, len(seq), MaxReadLen)
	}
	if len(qual) != 0 && len(qual) != len(seq) {
		return fmt.Errorf("%w: quality length %d does not match sequence length %d", ErrInvalidArgument, len(qual), len(seq))
	}
	return nil
}

// setLocator installs loc as generation g of rec and keeps the info
// counters in step.
func (s *Store) setLocator(rec *catalog.ReadRecord, g Generation, loc catalog.Locator) {
	old := rec.Blobs[g]
	count, bases := s.counters(g)
	if old.Present() {
		*count--
		*bases -= uint64(old.SeqLen)
	}
	if loc.Present() {
		*count++
		*bases += uint64(loc.SeqLen)
	}
	rec.Blobs[g] = loc
}

func (s *Store) counters(g Generation) (*uint32, *uint64) {
	switch g {
	case catalog.Corrected:
		return &s.info.CorrectedReads, &s.info.CorrectedBases
	case catalog.Trimmed:
		return &s.info.TrimmedReads, &s.info.TrimmedBases
	}
	return &s.info.RawReads, &s.info.RawBases
}

// StashReadData appends a new payload generation for an existing read. A
// previous payload of the same generation is superseded. A partitioned store
// fails with ErrAlreadyPartitioned until DeletePartitions is called, since
// the partition copies would no longer match the catalog.
func (s *Store) StashReadData(id uint32, g Generation, seq, qual []byte) error {
	if !g.Valid() {
		return fmt.Errorf("%w: generation %d", ErrInvalidArgument, uint8(g))
	}
	if err := validatePayload(seq, qual); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(ModeExtend); err != nil {
		return err
	}
	if err := s.checkUnpartitioned(); err != nil {
		return err
	}
	rec, err := s.readLocked(id)
	if err != nil {
		return err
	}

	name := ""
	if raw := rec.Blobs[catalog.Raw]; raw.Present() {
		// Carry the read name over from the raw payload.
		r := s.readers.Get()
		if err := s.writer.Flush(); err != nil {
			s.readers.Put(r)
			return err
		}
		d, err := r.Read(raw)
		s.readers.Put(r)
		if err != nil {
			return fmt.Errorf("failed to load read %d: %w", id, err)
		}
		name = d.Name
	}

	loc, err := s.writer.Append(&blob.Data{Name: name, Seq: seq, Qual: qual})
	if err != nil {
		return fmt.Errorf("failed to write read %d: %w", id, err)
	}
	s.setLocator(rec, g, loc)
	s.dirty = true
	return nil
}

// readLocked resolves id against the catalog and the partition restriction.
func (s *Store) readLocked(id uint32) (*catalog.ReadRecord, error) {
	rec, ok := s.cat.Read(id)
	if !ok {
		return nil, fmt.Errorf("%w: read %d of %d", ErrOutOfRange, id, s.cat.NumReads())
	}
	if s.view != nil && !s.view.Contains(id) {
		return nil, fmt.Errorf("%w: read %d, partition %d", ErrNotInPartition, id, s.view.ID())
	}
	return rec, nil
}

// GetRead returns the metadata of read id.
func (s *Store) GetRead(id uint32) (Read, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return Read{}, err
	}
	rec, err := s.readLocked(id)
	if err != nil {
		return Read{}, err
	}
	return newRead(id, rec, s.opts.policy), nil
}

// SetClearRange sets the clear range [begin, end) of read id.
func (s *Store) SetClearRange(id, begin, end uint32) error {
	if begin > end {
		return fmt.Errorf("%w: clear range [%d, %d)", ErrInvalidArgument, begin, end)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(ModeCreate, ModeExtend); err != nil {
		return err
	}
	rec, err := s.readLocked(id)
	if err != nil {
		return err
	}
	if n := maxLength(rec); end > n {
		return fmt.Errorf("%w: clear range end %d past read length %d", ErrInvalidArgument, end, n)
	}
	rec.ClearBegin, rec.ClearEnd = begin, end
	s.dirty = true
	return nil
}

func maxLength(rec *catalog.ReadRecord) uint32 {
	var n uint32
	for _, loc := range rec.Blobs {
		if loc.Present() {
			n = max(n, loc.SeqLen)
		}
	}
	return n
}

// SetIgnore marks read id as ignored by downstream stages.
func (s *Store) SetIgnore(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(ModeCreate, ModeExtend); err != nil {
		return err
	}
	rec, err := s.readLocked(id)
	if err != nil {
		return err
	}
	rec.Flags |= catalog.ReadIgnore
	s.dirty = true
	return nil
}

// LoadReadData loads the payload of read r. The generation returned is the
// first one in the store's generation policy that the read holds.
func (s *Store) LoadReadData(r Read) (*ReadData, error) {
	return s.LoadReadDataByID(r.ID)
}

// LoadReadDataByID loads the payload of read id.
func (s *Store) LoadReadDataByID(id uint32) (*ReadData, error) {
	start := time.Now()
	d, err := s.loadReadData(id)
	n := 0
	if d != nil {
		n = len(d.Seq) + len(d.Qual)
	}
	s.opts.metrics.RecordLoad(n, time.Since(start), err)
	return d, err
}

func (s *Store) loadReadData(id uint32) (*ReadData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rec, err := s.readLocked(id)
	if err != nil {
		return nil, err
	}
	return s.payloadLocked(id, rec)
}

// payloadLocked loads the generation of rec picked by the load policy. The
// caller holds s.mu.
func (s *Store) payloadLocked(id uint32, rec *catalog.ReadRecord) (*ReadData, error) {
	g, ok := pickGeneration(rec, s.opts.policy)
	if !ok {
		return nil, fmt.Errorf("%w: read %d", ErrNoPayload, id)
	}

	var (
		d   *blob.Data
		err error
	)
	if s.view != nil {
		e, ok := s.view.Entry(id)
		if !ok || !e.Blobs[g].Present() {
			return nil, fmt.Errorf("%w: read %d missing from partition %d index", ErrCorrupt, id, s.view.ID())
		}
		d, err = s.view.Read(e.Blobs[g])
	} else {
		if s.writer != nil && s.writer.Dirty() {
			if err := s.writer.Flush(); err != nil {
				return nil, err
			}
		}
		r := s.readers.Get()
		d, err = r.Read(rec.Blobs[g])
		s.readers.Put(r)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load read %d: %w", id, err)
	}
	return &ReadData{Name: d.Name, Seq: d.Seq, Qual: d.Qual, Generation: g}, nil
}
