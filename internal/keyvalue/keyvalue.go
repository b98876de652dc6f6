// Package keyvalue parses the line-oriented "key = value" dialect used by
// library description files.
//
// A line is a key, optional delimiters (':', '=' or whitespace) and a value.
// Lines starting with '!' or '#' are comments. An unquoted value ends at the
// first comment marker and loses trailing whitespace; a quoted value may
// contain delimiters and comment markers. A key without a value is allowed.
package keyvalue

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// Pair is one parsed line.
type Pair struct {
	Key   string
	Value string
}

func isComment(c rune) bool   { return c == '!' || c == '#' }
func isDelimiter(c rune) bool { return c == ':' || c == '=' || unicode.IsSpace(c) }

// Parse extracts the key and value from line. ok is false for blank and
// comment lines.
func Parse(line string) (p Pair, ok bool) {
	line = strings.TrimLeftFunc(line, unicode.IsSpace)
	if line == "" || isComment(rune(line[0])) {
		return Pair{}, false
	}

	end := strings.IndexFunc(line, isDelimiter)
	if end < 0 {
		return Pair{Key: line}, true
	}
	p.Key = line[:end]
	rest := strings.TrimLeftFunc(line[end:], isDelimiter)
	if rest == "" {
		return p, true
	}

	if q := rest[0]; q == '"' || q == '\'' {
		rest = rest[1:]
		if i := strings.IndexByte(rest, q); i >= 0 {
			rest = rest[:i]
		}
		p.Value = rest
		return p, true
	}

	if i := strings.IndexFunc(rest, isComment); i >= 0 {
		rest = rest[:i]
	}
	p.Value = strings.TrimRightFunc(rest, unicode.IsSpace)
	return p, true
}

// Bool reports whether the value starts with 't', 'T' or '1'.
func (p Pair) Bool() bool {
	if p.Value == "" {
		return false
	}
	switch p.Value[0] {
	case 't', 'T', '1':
		return true
	}
	return false
}

// Int64 parses the value as a base-10 integer.
func (p Pair) Int64() (int64, error) { return strconv.ParseInt(p.Value, 10, 64) }

// Uint64 parses the value as a base-10 unsigned integer.
func (p Pair) Uint64() (uint64, error) { return strconv.ParseUint(p.Value, 10, 64) }

// Float64 parses the value as a floating point number.
func (p Pair) Float64() (float64, error) { return strconv.ParseFloat(p.Value, 64) }

// ParseAll parses every non-comment line of r.
func ParseAll(r io.Reader) ([]Pair, error) {
	var pairs []Pair
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if p, ok := Parse(sc.Text()); ok {
			pairs = append(pairs, p)
		}
	}
	return pairs, sc.Err()
}
