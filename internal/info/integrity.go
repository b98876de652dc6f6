package info

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hupe1980/sqstore/internal/catalog"
)

// ErrIntegrityMismatch is returned when stored counters disagree with the
// catalog.
var ErrIntegrityMismatch = errors.New("integrity mismatch")

// Mismatch is one counter whose stored value differs from the recount.
type Mismatch struct {
	Field   string
	Stored  uint64
	Counted uint64
}

// IntegrityError lists every counter that differs from the catalog.
type IntegrityError struct {
	Mismatches []Mismatch
}

func (e *IntegrityError) Error() string {
	var b strings.Builder
	b.WriteString(ErrIntegrityMismatch.Error())
	for i, m := range e.Mismatches {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s stored %d counted %d", m.Field, m.Stored, m.Counted)
	}
	return b.String()
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrityMismatch }

// Check compares the stored counters with counted. It returns nil or an
// *IntegrityError and never modifies in.
func (in *Info) Check(counted catalog.Counts) error {
	stored := in.Counts()
	fields := []struct {
		name            string
		stored, counted uint64
	}{
		{"reads", uint64(stored.Reads), uint64(counted.Reads)},
		{"raw reads", uint64(stored.RawReads), uint64(counted.RawReads)},
		{"corrected reads", uint64(stored.CorrectedReads), uint64(counted.CorrectedReads)},
		{"trimmed reads", uint64(stored.TrimmedReads), uint64(counted.TrimmedReads)},
		{"raw bases", stored.RawBases, counted.RawBases},
		{"corrected bases", stored.CorrectedBases, counted.CorrectedBases},
		{"trimmed bases", stored.TrimmedBases, counted.TrimmedBases},
	}

	var mismatches []Mismatch
	for _, f := range fields {
		if f.stored != f.counted {
			mismatches = append(mismatches, Mismatch{Field: f.name, Stored: f.stored, Counted: f.counted})
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &IntegrityError{Mismatches: mismatches}
}

// WriteText writes a human-readable dump of the info block.
func (in *Info) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		key   string
		value any
	}{
		{"magic", fmt.Sprintf("%#016x", in.Magic)},
		{"version", in.Version},
		{"libraryRecordSize", in.LibrarySize},
		{"readRecordSize", in.ReadSize},
		{"maxLibrariesBits", in.MaxLibrariesBits},
		{"libraryNameSize", in.LibraryNameSize},
		{"maxReadsBits", in.MaxReadsBits},
		{"maxReadLenBits", in.MaxReadLenBits},
		{"generation", in.Generation},
		{"numLibraries", in.NumLibraries},
		{"numReads", in.NumReads},
		{"numBlobs", in.NumBlobs},
		{"rawReads", in.RawReads},
		{"rawBases", in.RawBases},
		{"correctedReads", in.CorrectedReads},
		{"correctedBases", in.CorrectedBases},
		{"trimmedReads", in.TrimmedReads},
		{"trimmedBases", in.TrimmedBases},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%v\n", r.key, r.value)
	}
	if !in.UpdatedAt.IsZero() {
		fmt.Fprintf(tw, "updatedAt\t%s\n", in.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
