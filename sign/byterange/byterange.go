// Package byterange models the /ByteRange array of a PDF signature: the two
// spans of the file a signature covers and the placeholder gap between them.
package byterange

import (
	"fmt"

	"github.com/sudhir-boottttt/MSpdf-sub001/sign/sigerr"
)

// Coverage classifies how much of the final file a signature protects.
type Coverage int

const (
	// CoverageUnknown is used when the range is missing or malformed.
	CoverageUnknown Coverage = iota
	// CoverageFull means the second segment ends at the end of the file.
	CoverageFull
	// CoveragePartial means bytes were appended after the signed revision.
	CoveragePartial
)

// String returns the lower-case coverage name.
func (c Coverage) String() string {
	switch c {
	case CoverageFull:
		return "full"
	case CoveragePartial:
		return "partial"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Coverage) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ByteRange is the ordered 4-tuple (start1, len1, start2, len2).
type ByteRange struct {
	Start1 int64
	Len1   int64
	Start2 int64
	Len2   int64
}

// New returns the range that covers everything in a file of length total
// except the gap [gapStart, gapEnd).
func New(gapStart, gapEnd, total int64) ByteRange {
	return ByteRange{Start1: 0, Len1: gapStart, Start2: gapEnd, Len2: total - gapEnd}
}

// FromSlice builds a range from the integers of a /ByteRange array.
func FromSlice(values []int64) (ByteRange, error) {
	if values == nil {
		return ByteRange{}, sigerr.New(sigerr.KindMalformedRange, "byte range is missing")
	}
	if len(values) != 4 {
		return ByteRange{}, sigerr.Newf(sigerr.KindMalformedRange,
			"byte range must have 4 entries, got %d", len(values))
	}
	return ByteRange{Start1: values[0], Len1: values[1], Start2: values[2], Len2: values[3]}, nil
}

// End returns the offset just past the second segment.
func (r ByteRange) End() int64 {
	return r.Start2 + r.Len2
}

// Covered returns the number of bytes the two segments cover.
func (r ByteRange) Covered() int64 {
	return r.Len1 + r.Len2
}

// Excluded returns the offsets [start, end) of the gap between the segments.
func (r ByteRange) Excluded() (start, end int64) {
	return r.Start1 + r.Len1, r.Start2
}

// Validate checks r against a file of length fileLength.
func (r ByteRange) Validate(fileLength int64) error {
	if r.Start1 < 0 || r.Len1 < 0 || r.Start2 < 0 || r.Len2 < 0 {
		return sigerr.Newf(sigerr.KindMalformedRange, "byte range %s has a negative entry", r)
	}
	// Compared by subtraction so that huge entries cannot wrap around.
	if r.Start1 > fileLength || r.Len1 > fileLength-r.Start1 ||
		r.Start2 > fileLength || r.Len2 > fileLength-r.Start2 {
		return sigerr.Newf(sigerr.KindMalformedRange,
			"byte range %s extends past end of file (%d bytes)", r, fileLength)
	}
	if r.Start2 < r.Start1+r.Len1 {
		return sigerr.Newf(sigerr.KindMalformedRange, "byte range %s has overlapping segments", r)
	}
	return nil
}

// Classify reports the coverage of r over a file of length fileLength.
// A nil or invalid range is CoverageUnknown.
func Classify(r *ByteRange, fileLength int64) Coverage {
	if r == nil || r.Validate(fileLength) != nil {
		return CoverageUnknown
	}
	if r.End() == fileLength {
		return CoverageFull
	}
	return CoveragePartial
}

// Percent returns the share of the file covered by r, in the range 0-100.
func (r ByteRange) Percent(fileLength int64) float64 {
	if fileLength <= 0 {
		return 0
	}
	return float64(r.Covered()) * 100 / float64(fileLength)
}

// Segments returns the two covered slices of data. The range must have been
// validated against len(data).
func (r ByteRange) Segments(data []byte) (first, second []byte) {
	return data[r.Start1 : r.Start1+r.Len1], data[r.Start2:r.End()]
}

// String renders the range the way it appears in a PDF.
func (r ByteRange) String() string {
	return fmt.Sprintf("[%d %d %d %d]", r.Start1, r.Len1, r.Start2, r.Len2)
}
