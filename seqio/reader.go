package seqio

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrFormat is returned for malformed FASTA or FASTQ input.
var ErrFormat = errors.New("seqio: malformed input")

// maxLine bounds a single input line. It fits the longest read a store
// accepts.
const maxLine = 4 << 20

// Format is a sequence file format.
type Format int

const (
	FormatUnknown Format = iota
	FormatFASTA
	FormatFASTQ
)

func (f Format) String() string {
	switch f {
	case FormatFASTA:
		return "fasta"
	case FormatFASTQ:
		return "fastq"
	}
	return "unknown"
}

// Record is one sequence. Qual is empty for FASTA input. Slices are owned
// by the caller.
type Record struct {
	Name string
	Seq  []byte
	Qual []byte
}

// Reader parses FASTA or FASTQ records from a stream. The format is taken
// from the first header character.
type Reader struct {
	sc      *bufio.Scanner
	format  Format
	line    int
	pending []byte // FASTA header read ahead of its record
	done    bool
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	return &Reader{sc: sc}
}

// Format returns the detected format, FormatUnknown before the first record.
func (r *Reader) Format() Format { return r.format }

// Line returns the number of lines consumed.
func (r *Reader) Line() int { return r.line }

func (r *Reader) scan() ([]byte, bool) {
	if !r.sc.Scan() {
		return nil, false
	}
	r.line++
	return bytes.TrimRight(r.sc.Bytes(), "\r \t"), true
}

func (r *Reader) scanErr() error {
	if err := r.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("%w: line %d longer than %d bytes", ErrFormat, r.line+1, maxLine)
		}
		return err
	}
	return nil
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (*Record, error) {
	if r.done {
		return nil, io.EOF
	}

	header := r.pending
	r.pending = nil
	for header == nil {
		line, ok := r.scan()
		if !ok {
			r.done = true
			if err := r.scanErr(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		if len(line) > 0 {
			header = bytes.Clone(line)
		}
	}

	if r.format == FormatUnknown {
		switch header[0] {
		case '>':
			r.format = FormatFASTA
		case '@':
			r.format = FormatFASTQ
		default:
			return nil, fmt.Errorf("%w: line %d: expected '>' or '@' header", ErrFormat, r.line)
		}
	}

	if r.format == FormatFASTA {
		return r.nextFASTA(header)
	}
	return r.nextFASTQ(header)
}

func (r *Reader) nextFASTA(header []byte) (*Record, error) {
	if header[0] != '>' {
		return nil, fmt.Errorf("%w: line %d: expected '>' header", ErrFormat, r.line)
	}
	rec := &Record{Name: string(header[1:]), Seq: []byte{}}
	for {
		line, ok := r.scan()
		if !ok {
			r.done = true
			if err := r.scanErr(); err != nil {
				return nil, err
			}
			return rec, nil
		}
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			r.pending = bytes.Clone(line)
			return rec, nil
		}
		rec.Seq = append(rec.Seq, line...)
	}
}

func (r *Reader) nextFASTQ(header []byte) (*Record, error) {
	if header[0] != '@' {
		return nil, fmt.Errorf("%w: line %d: expected '@' header", ErrFormat, r.line)
	}
	rec := &Record{Name: string(header[1:])}

	seq, ok := r.scan()
	if !ok {
		return nil, r.truncated()
	}
	rec.Seq = bytes.Clone(seq)

	sep, ok := r.scan()
	if !ok {
		return nil, r.truncated()
	}
	if len(sep) == 0 || sep[0] != '+' {
		return nil, fmt.Errorf("%w: line %d: expected '+' separator", ErrFormat, r.line)
	}

	qual, ok := r.scan()
	if !ok {
		return nil, r.truncated()
	}
	if len(qual) != len(rec.Seq) {
		return nil, fmt.Errorf("%w: line %d: %d quality values for %d bases", ErrFormat, r.line, len(qual), len(rec.Seq))
	}
	rec.Qual = bytes.Clone(qual)
	return rec, nil
}

func (r *Reader) truncated() error {
	r.done = true
	if err := r.scanErr(); err != nil {
		return err
	}
	return fmt.Errorf("%w: record truncated at line %d", ErrFormat, r.line)
}
