// Package pileup models one line of a modkit-style pileup file. The core
// only interprets the contig, start and fraction-modified columns; the
// full line is retained so records round-trip byte-identically through
// compression and query.
package pileup

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/SebastianDall/epimetheus/common"
)

// Column positions of the interpreted fields within the tab-delimited
// line. The layout follows the modkit bedMethyl convention; everything
// else is opaque passthrough.
const (
	colContig           = 0
	colStart            = 1
	colFractionModified = 10

	minColumns = colFractionModified + 1
)

// Record is one decoded pileup entry. It is immutable once produced; the
// raw line it was parsed from is kept verbatim.
type Record struct {
	Contig           string
	Start            int64
	FractionModified float64

	raw []byte
}

// Parse decodes a line into a Record. The line must not include a trailing
// newline. The returned Record owns a copy of the line, so callers may
// reuse the input buffer.
func Parse(line []byte) (Record, error) {
	var rec Record
	rest := line
	for col := 0; col <= colFractionModified; col++ {
		var field []byte
		if i := bytes.IndexByte(rest, '\t'); i >= 0 {
			field, rest = rest[:i], rest[i+1:]
		} else if col == colFractionModified {
			field, rest = rest, nil
		} else {
			return Record{}, fmt.Errorf("%w: %d columns, need at least %d", common.ErrInvalidRecord, col+1, minColumns)
		}

		switch col {
		case colContig:
			if len(field) == 0 {
				return Record{}, fmt.Errorf("%w: empty contig name", common.ErrInvalidRecord)
			}
			rec.Contig = string(field)
		case colStart:
			start, err := strconv.ParseInt(string(field), 10, 64)
			if err != nil || start < 0 {
				return Record{}, fmt.Errorf("%w: bad start coordinate %q", common.ErrInvalidRecord, field)
			}
			rec.Start = start
		case colFractionModified:
			frac, err := strconv.ParseFloat(string(field), 64)
			if err != nil {
				return Record{}, fmt.Errorf("%w: bad fraction_modified %q", common.ErrInvalidRecord, field)
			}
			rec.FractionModified = frac
		}
	}

	rec.raw = append([]byte(nil), line...)
	return rec, nil
}

// ContigOf extracts just the contig column of a line, for index
// bookkeeping during compression where full parsing would be wasted work.
func ContigOf(line []byte) (string, error) {
	i := bytes.IndexByte(line, '\t')
	if i <= 0 {
		return "", fmt.Errorf("%w: no contig column in %q", common.ErrInvalidRecord, line)
	}
	return string(line[:i]), nil
}

// Raw returns the record's original line without a trailing newline.
func (r Record) Raw() []byte {
	return r.raw
}

func (r Record) String() string {
	return string(r.raw)
}
