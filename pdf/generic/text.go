package generic

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	utf16BOM = []byte{0xFE, 0xFF}
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
)

// pdfDocSpecial holds the PDFDocEncoding code points that differ from
// ISO 8859-1.
var pdfDocSpecial = map[byte]rune{
	0x18: '˘', 0x19: 'ˇ', 0x1A: 'ˆ', 0x1B: '˙',
	0x1C: '˝', 0x1D: '˛', 0x1E: '˚', 0x1F: '˜',
	0x80: '•', 0x81: '†', 0x82: '‡', 0x83: '…',
	0x84: '—', 0x85: '–', 0x86: 'ƒ', 0x87: '⁄',
	0x88: '‹', 0x89: '›', 0x8A: '−', 0x8B: '‰',
	0x8C: '„', 0x8D: '“', 0x8E: '”', 0x8F: '‘',
	0x90: '’', 0x91: '‚', 0x92: '™', 0x93: 'ﬁ',
	0x94: 'ﬂ', 0x95: 'Ł', 0x96: 'Œ', 0x97: 'Š',
	0x98: 'Ÿ', 0x99: 'Ž', 0x9A: 'ı', 0x9B: 'ł',
	0x9C: 'œ', 0x9D: 'š', 0x9E: 'ž', 0xA0: '€',
}

var pdfDocReverse = func() map[rune]byte {
	m := make(map[rune]byte, len(pdfDocSpecial))
	for b, r := range pdfDocSpecial {
		m[r] = b
	}
	return m
}()

// DecodeText decodes a PDF text string: UTF-16BE or UTF-8 when a byte order
// mark is present, PDFDocEncoding otherwise.
func DecodeText(b []byte) string {
	switch {
	case bytes.HasPrefix(b, utf16BOM):
		dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		out, err := dec.Bytes(b)
		if err == nil {
			return string(out)
		}
	case bytes.HasPrefix(b, utf8BOM) && utf8.Valid(b[3:]):
		return string(b[3:])
	}

	var sb bytes.Buffer
	for _, c := range b {
		if r, ok := pdfDocSpecial[c]; ok {
			sb.WriteRune(r)
			continue
		}
		sb.WriteRune(charmap.ISO8859_1.DecodeByte(c))
	}
	return sb.String()
}

// EncodeText encodes s as PDFDocEncoding when every rune is representable
// and as UTF-16BE with a byte order mark otherwise.
func EncodeText(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if b, ok := pdfDocReverse[r]; ok {
			out = append(out, b)
			continue
		}
		b, ok := charmap.ISO8859_1.EncodeRune(r)
		if !ok || (b >= 0x18 && b <= 0x1F) || (b >= 0x7F && b <= 0xA0) {
			return encodeUTF16(s)
		}
		out = append(out, b)
	}
	return out
}

func encodeUTF16(s string) []byte {
	enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
	out, err := enc.Bytes([]byte(s))
	if err != nil {
		// invalid UTF-8 input: fall back to the raw bytes
		return []byte(s)
	}
	return out
}

// FormatDate formats t as a PDF date string, D:YYYYMMDDHHmmSS+HH'mm'.
func FormatDate(t time.Time) string {
	_, offset := t.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("D:%04d%02d%02d%02d%02d%02d%s%02d'%02d'",
		t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(),
		sign, offset/3600, (offset%3600)/60)
}

// ParseDate parses a PDF date string. Every field after the year is
// optional; a missing offset is read as UTC.
func ParseDate(s string) (time.Time, error) {
	orig := s
	if len(s) >= 2 && s[:2] == "D:" {
		s = s[2:]
	}

	fields := [6]int{0, 1, 1, 0, 0, 0}
	widths := [6]int{4, 2, 2, 2, 2, 2}
	for i, w := range widths {
		if len(s) < w || !isDigits(s[:w]) {
			if i == 0 {
				return time.Time{}, fmt.Errorf("invalid PDF date %q", orig)
			}
			break
		}
		fields[i], _ = strconv.Atoi(s[:w])
		s = s[w:]
	}

	loc := time.UTC
	if len(s) > 0 {
		switch s[0] {
		case 'Z', 'z':
		case '+', '-':
			tz := s[1:]
			var hh, mm int
			if len(tz) >= 2 && isDigits(tz[:2]) {
				hh, _ = strconv.Atoi(tz[:2])
				tz = tz[2:]
			}
			if len(tz) > 0 && tz[0] == '\'' {
				tz = tz[1:]
			}
			if len(tz) >= 2 && isDigits(tz[:2]) {
				mm, _ = strconv.Atoi(tz[:2])
			}
			offset := hh*3600 + mm*60
			if s[0] == '-' {
				offset = -offset
			}
			loc = time.FixedZone("", offset)
		default:
			return time.Time{}, fmt.Errorf("invalid PDF date %q", orig)
		}
	}

	return time.Date(fields[0], time.Month(fields[1]), fields[2], fields[3], fields[4], fields[5], 0, loc), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
