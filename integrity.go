package sqstore

import (
	"fmt"
	"io"
)

// Info returns a snapshot of the info block.
func (s *Store) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in := s.info
	if in == nil {
		return Info{}
	}
	return Info{
		Version:        in.Version,
		Generation:     in.Generation,
		NumLibraries:   in.NumLibraries,
		NumReads:       in.NumReads,
		NumBlobs:       in.NumBlobs,
		RawReads:       in.RawReads,
		CorrectedReads: in.CorrectedReads,
		TrimmedReads:   in.TrimmedReads,
		RawBases:       in.RawBases,
		CorrectedBases: in.CorrectedBases,
		TrimmedBases:   in.TrimmedBases,
	}
}

// CheckInfo recounts reads and bases per payload generation from the catalog
// and compares them with the stored counters. It returns nil or an
// *IntegrityError listing every differing counter, and changes nothing.
func (s *Store) CheckInfo() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.info.Check(s.cat.Count())
}

// RecountReads resets the stored counters from the catalog.
func (s *Store) RecountReads() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCatalogWritable(ModeCreate, ModeExtend, ModePartitionBuild); err != nil {
		return err
	}
	s.recountLocked()
	return nil
}

func (s *Store) recountLocked() {
	s.info.SetCounts(s.cat.Count())
	s.info.NumLibraries = s.cat.NumLibraries()
	s.dirty = true
}

// SetLastBlob records the current number of blob files in the info block.
func (s *Store) SetLastBlob() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkCatalogWritable(ModeCreate, ModeExtend, ModePartitionBuild); err != nil {
		return err
	}
	s.setLastBlobLocked()
	return nil
}

func (s *Store) setLastBlobLocked() {
	if s.writer != nil {
		s.info.NumBlobs = s.writer.NumFiles()
	}
	s.dirty = true
}

// WriteInfoAsText writes a human-readable dump of the info block.
func (s *Store) WriteInfoAsText(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.info.WriteText(w); err != nil {
		return err
	}
	if s.table != nil {
		if _, err := fmt.Fprintf(w, "partitions  %d\n", s.table.NumPartitions()); err != nil {
			return err
		}
	}
	return nil
}
