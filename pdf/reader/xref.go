package reader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/filters"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/generic"
)

// XRefType is the kind of a cross-reference entry.
type XRefType int

const (
	XRefTypeFree XRefType = iota
	XRefTypeStandard
	XRefTypeInObjStream
)

func (t XRefType) String() string {
	switch t {
	case XRefTypeFree:
		return "free"
	case XRefTypeStandard:
		return "standard"
	case XRefTypeInObjStream:
		return "in_obj_stream"
	default:
		return "unknown"
	}
}

// XRefEntry is one cross-reference entry. For standard entries Location is
// the byte offset of the object; for compressed entries it is the object
// number of the containing object stream and Index the position inside it.
type XRefEntry struct {
	Type       XRefType
	Location   int64
	Generation int
	Index      int
}

// startxrefRE finds the last startxref in the tail of the file.
var startxrefRE = regexp.MustCompile(`(?s:.*)\sstartxref\s+(\d+)\s+%%EOF`)

func findStartXRef(data []byte) (int64, error) {
	tail := data
	if len(tail) > 1024 {
		tail = tail[len(tail)-1024:]
	}
	m := startxrefRE.FindSubmatch(tail)
	if m == nil {
		// Trailing garbage after %%EOF: fall back to the last keyword anywhere.
		idx := bytes.LastIndex(data, []byte("startxref"))
		if idx < 0 {
			return 0, ErrNoXRef
		}
		p := generic.NewParserAt(data, idx+len("startxref"))
		kw := p.ReadKeyword()
		n, err := strconv.ParseInt(kw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad startxref %q", ErrInvalidXRef, kw)
		}
		return n, nil
	}
	return strconv.ParseInt(string(m[1]), 10, 64)
}

// addEntry records an entry unless a newer section already defined it.
func (r *PdfFileReader) addEntry(objNum int, e *XRefEntry) {
	if _, exists := r.XRef[objNum]; !exists {
		r.XRef[objNum] = e
	}
}

// parseXRefChain walks the xref sections from newest to oldest.
func (r *PdfFileReader) parseXRefChain(offset int64) error {
	visited := make(map[int64]bool)
	first := true

	for {
		if visited[offset] {
			return fmt.Errorf("%w: loop in /Prev chain at %d", ErrInvalidXRef, offset)
		}
		visited[offset] = true
		if offset < 0 || offset >= int64(len(r.data)) {
			return fmt.Errorf("%w: offset %d out of bounds", ErrInvalidXRef, offset)
		}
		r.XRefOffsets = append(r.XRefOffsets, offset)

		p := generic.NewParserAt(r.data, int(offset))
		p.SkipWhitespace()

		var trailer *generic.DictionaryObject
		var err error
		isStream := !bytes.HasPrefix(r.data[p.Pos():], []byte("xref"))
		if isStream {
			trailer, err = r.parseXRefStream(p.Pos())
		} else {
			trailer, err = r.parseXRefTable(p)
			if err == nil {
				// Hybrid files keep their compressed entries in /XRefStm.
				if stm, ok := trailer.GetInt("XRefStm"); ok && !visited[stm] {
					visited[stm] = true
					if _, err := r.parseXRefStream(int(stm)); err != nil {
						return err
					}
				}
			}
		}
		if err != nil {
			return err
		}

		if first {
			r.Trailer = trailer
			r.HasXRefStream = isStream
			first = false
		}

		prev, ok := trailer.GetInt("Prev")
		if !ok {
			return nil
		}
		offset = prev
	}
}

// parseXRefTable parses a classic table starting at the "xref" keyword.
func (r *PdfFileReader) parseXRefTable(p *generic.Parser) (*generic.DictionaryObject, error) {
	if kw := p.ReadKeyword(); kw != "xref" {
		return nil, fmt.Errorf("%w: expected 'xref', got %q", ErrInvalidXRef, kw)
	}

	for {
		kw := p.ReadKeyword()
		if kw == "trailer" {
			break
		}
		start, err := strconv.Atoi(kw)
		if err != nil {
			return nil, fmt.Errorf("%w: subsection start %q", ErrInvalidXRef, kw)
		}
		countKw := p.ReadKeyword()
		count, err := strconv.Atoi(countKw)
		if err != nil || count < 0 {
			return nil, fmt.Errorf("%w: subsection count %q", ErrInvalidXRef, countKw)
		}

		for i := 0; i < count; i++ {
			offKw, genKw, kind := p.ReadKeyword(), p.ReadKeyword(), p.ReadKeyword()
			off, err1 := strconv.ParseInt(offKw, 10, 64)
			gen, err2 := strconv.Atoi(genKw)
			if err1 != nil || err2 != nil || (kind != "n" && kind != "f") {
				return nil, fmt.Errorf("%w: entry %d of subsection %d", ErrInvalidXRef, i, start)
			}
			entry := &XRefEntry{Type: XRefTypeFree, Location: off, Generation: gen}
			if kind == "n" {
				entry.Type = XRefTypeStandard
			}
			r.addEntry(start+i, entry)
		}
	}

	obj, err := p.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("failed to parse trailer: %w", err)
	}
	dict, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("%w: trailer must be a dictionary", ErrInvalidXRef)
	}
	return dict, nil
}

// parseXRefStream parses a cross-reference stream object at offset.
func (r *PdfFileReader) parseXRefStream(offset int) (*generic.DictionaryObject, error) {
	if offset < 0 || offset >= len(r.data) {
		return nil, fmt.Errorf("%w: xref stream offset %d out of bounds", ErrInvalidXRef, offset)
	}
	ind, err := generic.NewParserAt(r.data, offset).ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("failed to parse xref stream: %w", err)
	}
	stream, ok := ind.Object.(*generic.StreamObject)
	if !ok || stream.Dictionary.GetName("Type") != "XRef" {
		return nil, fmt.Errorf("%w: xref stream expected at %d", ErrInvalidXRef, offset)
	}
	dict := stream.Dictionary

	data, err := r.decodeStream(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to decode xref stream: %w", err)
	}

	wInts, ok := dict.GetArray("W").Ints()
	if !ok || len(wInts) != 3 {
		return nil, fmt.Errorf("%w: invalid /W", ErrInvalidXRef)
	}
	var w [3]int
	for i, v := range wInts {
		if v < 0 || v > 8 {
			return nil, fmt.Errorf("%w: invalid /W", ErrInvalidXRef)
		}
		w[i] = int(v)
	}
	entrySize := w[0] + w[1] + w[2]
	if entrySize == 0 {
		return nil, fmt.Errorf("%w: zero entry size", ErrInvalidXRef)
	}

	var index []int64
	if arr := dict.GetArray("Index"); arr != nil {
		if index, ok = arr.Ints(); !ok || len(index)%2 != 0 {
			return nil, fmt.Errorf("%w: invalid /Index", ErrInvalidXRef)
		}
	} else {
		size, _ := dict.GetInt("Size")
		index = []int64{0, size}
	}

	pos := 0
	for i := 0; i < len(index); i += 2 {
		start, count := int(index[i]), int(index[i+1])
		for j := 0; j < count; j++ {
			if pos+entrySize > len(data) {
				return nil, fmt.Errorf("%w: xref stream truncated", ErrInvalidXRef)
			}
			r.addEntry(start+j, parseXRefStreamEntry(data[pos:pos+entrySize], w))
			pos += entrySize
		}
	}
	return dict, nil
}

func parseXRefStreamEntry(data []byte, w [3]int) *XRefEntry {
	typ := readXRefField(data, 0, w[0])
	if w[0] == 0 {
		typ = 1
	}
	f2 := readXRefField(data, w[0], w[1])
	f3 := readXRefField(data, w[0]+w[1], w[2])

	switch typ {
	case 1:
		return &XRefEntry{Type: XRefTypeStandard, Location: f2, Generation: int(f3)}
	case 2:
		return &XRefEntry{Type: XRefTypeInObjStream, Location: f2, Index: int(f3)}
	default:
		return &XRefEntry{Type: XRefTypeFree, Location: f2, Generation: int(f3)}
	}
}

func readXRefField(data []byte, offset, width int) int64 {
	var v int64
	for i := 0; i < width; i++ {
		v = v<<8 | int64(data[offset+i])
	}
	return v
}

// decodeStream applies the stream's filters.
func (r *PdfFileReader) decodeStream(stream *generic.StreamObject) ([]byte, error) {
	var names []string
	switch f := stream.Dictionary.Get("Filter").(type) {
	case generic.NameObject:
		names = []string{string(f)}
	case generic.ArrayObject:
		for _, item := range f {
			if name, ok := item.(generic.NameObject); ok {
				names = append(names, string(name))
			}
		}
	}
	if len(names) == 0 {
		return stream.Data, nil
	}

	var params []filters.Params
	switch dp := stream.Dictionary.Get("DecodeParms").(type) {
	case *generic.DictionaryObject:
		params = append(params, decodeParams(dp))
	case generic.ArrayObject:
		for _, item := range dp {
			d, _ := item.(*generic.DictionaryObject)
			params = append(params, decodeParams(d))
		}
	}
	return filters.DecodeStream(stream.Data, names, params)
}

func decodeParams(d *generic.DictionaryObject) filters.Params {
	get := func(key string) int {
		v, _ := d.GetInt(key)
		return int(v)
	}
	return filters.Params{
		Predictor:        get("Predictor"),
		Colors:           get("Colors"),
		BitsPerComponent: get("BitsPerComponent"),
		Columns:          get("Columns"),
	}
}

// XRefSubsection is a run of consecutive entries written by the updater.
type XRefSubsection struct {
	Start   int
	Entries []XRefEntry
}

// WriteXRefTable writes a classic table for the given subsections.
func WriteXRefTable(w io.Writer, sections []XRefSubsection) error {
	if _, err := io.WriteString(w, "xref\n"); err != nil {
		return err
	}
	for _, s := range sections {
		if _, err := fmt.Fprintf(w, "%d %d\n", s.Start, len(s.Entries)); err != nil {
			return err
		}
		for _, e := range s.Entries {
			kind := "n"
			if e.Type == XRefTypeFree {
				kind = "f"
			}
			if _, err := fmt.Fprintf(w, "%010d %05d %s \n", e.Location, e.Generation, kind); err != nil {
				return err
			}
		}
	}
	return nil
}

// EncodeXRefStream returns the uncompressed data, /W and /Index for an xref
// stream covering the given subsections.
func EncodeXRefStream(sections []XRefSubsection) ([]byte, generic.ArrayObject, generic.ArrayObject) {
	var maxLoc int64
	maxGen := 0
	for _, s := range sections {
		for _, e := range s.Entries {
			maxLoc = max(maxLoc, e.Location)
			maxGen = max(maxGen, e.Generation, e.Index)
		}
	}
	w2, w3 := bytesNeeded(maxLoc), bytesNeeded(int64(maxGen))

	var buf bytes.Buffer
	index := generic.ArrayObject{}
	for _, s := range sections {
		index = append(index, generic.IntegerObject(s.Start), generic.IntegerObject(len(s.Entries)))
		for _, e := range s.Entries {
			buf.WriteByte(byte(e.Type))
			writeField(&buf, e.Location, w2)
			if e.Type == XRefTypeInObjStream {
				writeField(&buf, int64(e.Index), w3)
			} else {
				writeField(&buf, int64(e.Generation), w3)
			}
		}
	}
	widths := generic.ArrayObject{generic.IntegerObject(1), generic.IntegerObject(w2), generic.IntegerObject(w3)}
	return buf.Bytes(), widths, index
}

func bytesNeeded(n int64) int {
	width := 1
	for n > 0xFF {
		width++
		n >>= 8
	}
	return width
}

func writeField(w *bytes.Buffer, value int64, width int) {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], uint64(value))
	w.Write(data[8-width:])
}
