// Package writer appends incremental updates to PDF files and creates small
// documents from scratch.
package writer

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/filters"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/generic"
	"github.com/sudhir-boottttt/MSpdf-sub001/pdf/reader"
)

// ErrEncrypted is returned when an update is requested for an encrypted file.
var ErrEncrypted = errors.New("encrypted documents cannot be updated")

// Trailer keys that describe an xref section rather than the document.
var sectionKeys = []string{"Prev", "XRefStm", "Type", "W", "Index", "Filter", "DecodeParms", "Length"}

// IncrementalPdfFileWriter collects new and changed objects and appends them
// to the original bytes as a new revision. The original bytes are never
// modified.
type IncrementalPdfFileWriter struct {
	Reader *reader.PdfFileReader

	// Objects holds the objects written by the update, keyed by number.
	Objects map[int]*generic.IndirectObject

	// Rand supplies the second half of the file identifier.
	Rand io.Reader

	originalData []byte
	nextObjNum   int
	rootRef      generic.Reference
	streamXRefs  bool
}

// NewIncrementalPdfFileWriter creates an updater for the document read by r.
// The update uses an xref stream when the newest section of r does.
func NewIncrementalPdfFileWriter(r *reader.PdfFileReader) *IncrementalPdfFileWriter {
	return &IncrementalPdfFileWriter{
		Reader:       r,
		Objects:      make(map[int]*generic.IndirectObject),
		Rand:         rand.Reader,
		originalData: r.Data(),
		nextObjNum:   r.Size(),
		rootRef:      r.RootRef(),
		streamXRefs:  r.HasXRefStream,
	}
}

// GetObject returns objNum, preferring the version changed by this update.
func (w *IncrementalPdfFileWriter) GetObject(objNum int) (generic.PdfObject, error) {
	if ind, ok := w.Objects[objNum]; ok {
		return ind.Object, nil
	}
	return w.Reader.GetObject(objNum)
}

// GetDict resolves obj against this update and requires a dictionary.
func (w *IncrementalPdfFileWriter) GetDict(obj generic.PdfObject) (*generic.DictionaryObject, error) {
	if ref, ok := obj.(generic.Reference); ok {
		if ind, ok := w.Objects[ref.ObjectNumber]; ok {
			if d, ok := ind.Object.(*generic.DictionaryObject); ok {
				return d, nil
			}
			return nil, fmt.Errorf("object %d is not a dictionary", ref.ObjectNumber)
		}
	}
	return w.Reader.GetDict(obj)
}

// RootRef returns the reference of the document catalog.
func (w *IncrementalPdfFileWriter) RootRef() generic.Reference {
	return w.rootRef
}

// GetRoot returns the document catalog.
func (w *IncrementalPdfFileWriter) GetRoot() (*generic.DictionaryObject, error) {
	return w.GetDict(w.rootRef)
}

// AddObject adds a new object and returns its reference.
func (w *IncrementalPdfFileWriter) AddObject(obj generic.PdfObject) generic.Reference {
	objNum := w.nextObjNum
	w.nextObjNum++
	w.Objects[objNum] = &generic.IndirectObject{ObjectNumber: objNum, Object: obj}
	return generic.NewReference(objNum, 0)
}

// UpdateObject replaces an existing object in the new revision.
func (w *IncrementalPdfFileWriter) UpdateObject(ref generic.Reference, obj generic.PdfObject) {
	gen := ref.GenerationNumber
	if entry := w.Reader.XRef[ref.ObjectNumber]; entry != nil && entry.Type == reader.XRefTypeStandard {
		gen = entry.Generation
	}
	w.Objects[ref.ObjectNumber] = &generic.IndirectObject{
		ObjectNumber:     ref.ObjectNumber,
		GenerationNumber: gen,
		Object:           obj,
	}
}

// Layout records where each object of the update landed in the output.
type Layout struct {
	// Offsets maps object numbers to absolute file offsets.
	Offsets map[int]int64
	// XRefOffset is the offset of the new xref section.
	XRefOffset int64
}

// Write writes the original bytes followed by the update.
func (w *IncrementalPdfFileWriter) Write(out io.Writer) error {
	data, _, err := w.Bytes()
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// Bytes returns the updated document and the layout of the appended revision.
func (w *IncrementalPdfFileWriter) Bytes() ([]byte, *Layout, error) {
	if w.Reader.IsEncrypted() {
		return nil, nil, ErrEncrypted
	}

	var buf bytes.Buffer
	buf.Write(w.originalData)
	if n := len(w.originalData); n > 0 && w.originalData[n-1] != '\n' && w.originalData[n-1] != '\r' {
		buf.WriteByte('\n')
	}

	layout := &Layout{Offsets: make(map[int]int64, len(w.Objects))}
	nums := make([]int, 0, len(w.Objects))
	for n := range w.Objects {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	for _, n := range nums {
		layout.Offsets[n] = int64(buf.Len())
		if err := writeIndirect(&buf, w.Objects[n]); err != nil {
			return nil, nil, err
		}
	}

	layout.XRefOffset = int64(buf.Len())
	var err error
	if w.streamXRefs {
		err = w.writeXRefStream(&buf, nums, layout)
	} else {
		err = w.writeXRefTable(&buf, nums, layout)
	}
	if err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), layout, nil
}

func writeIndirect(buf *bytes.Buffer, ind *generic.IndirectObject) error {
	fmt.Fprintf(buf, "%d %d obj\n", ind.ObjectNumber, ind.GenerationNumber)
	if err := ind.Object.Write(buf); err != nil {
		return fmt.Errorf("writing object %d: %w", ind.ObjectNumber, err)
	}
	buf.WriteString("\nendobj\n")
	return nil
}

// subsections groups the sorted object numbers into runs of consecutive numbers.
func (w *IncrementalPdfFileWriter) subsections(nums []int, offsets map[int]int64) []reader.XRefSubsection {
	var out []reader.XRefSubsection
	for _, n := range nums {
		entry := reader.XRefEntry{
			Type:       reader.XRefTypeStandard,
			Location:   offsets[n],
			Generation: w.Objects[n].GenerationNumber,
		}
		if k := len(out) - 1; k >= 0 && out[k].Start+len(out[k].Entries) == n {
			out[k].Entries = append(out[k].Entries, entry)
			continue
		}
		out = append(out, reader.XRefSubsection{Start: n, Entries: []reader.XRefEntry{entry}})
	}
	return out
}

// populateTrailer copies the document entries of the previous trailer and
// sets the entries of the new section.
func (w *IncrementalPdfFileWriter) populateTrailer(trailer *generic.DictionaryObject, size int) error {
	prev := w.Reader.Trailer
	for _, key := range prev.Keys() {
		trailer.Set(key, prev.Get(key))
	}
	for _, key := range sectionKeys {
		trailer.Delete(key)
	}
	trailer.Set("Size", generic.IntegerObject(size))
	trailer.Set("Root", w.rootRef)
	trailer.Set("Prev", generic.IntegerObject(w.Reader.StartXRef()))

	id, err := w.documentID()
	if err != nil {
		return err
	}
	trailer.Set("ID", id)
	return nil
}

// documentID keeps the first part of the file identifier and regenerates
// the second.
func (w *IncrementalPdfFileWriter) documentID() (generic.ArrayObject, error) {
	id2 := make([]byte, 16)
	if _, err := io.ReadFull(w.Rand, id2); err != nil {
		return nil, fmt.Errorf("generating document ID: %w", err)
	}

	var id1 []byte
	if ids := w.Reader.Trailer.GetArray("ID"); len(ids) >= 1 {
		if s, ok := ids[0].(*generic.StringObject); ok {
			id1 = s.Value
		}
	}
	if id1 == nil {
		id1 = id2
	}
	return generic.ArrayObject{generic.NewHexString(id1), generic.NewHexString(id2)}, nil
}

func (w *IncrementalPdfFileWriter) writeXRefTable(buf *bytes.Buffer, nums []int, layout *Layout) error {
	if err := reader.WriteXRefTable(buf, w.subsections(nums, layout.Offsets)); err != nil {
		return err
	}
	trailer := generic.NewDictionary()
	if err := w.populateTrailer(trailer, w.nextObjNum); err != nil {
		return err
	}
	buf.WriteString("trailer\n")
	if err := trailer.Write(buf); err != nil {
		return err
	}
	fmt.Fprintf(buf, "\nstartxref\n%d\n%%%%EOF\n", layout.XRefOffset)
	return nil
}

// writeXRefStream writes the section as a compressed xref stream object that
// also lists itself.
func (w *IncrementalPdfFileWriter) writeXRefStream(buf *bytes.Buffer, nums []int, layout *Layout) error {
	self := w.nextObjNum
	offsets := make(map[int]int64, len(layout.Offsets)+1)
	for n, off := range layout.Offsets {
		offsets[n] = off
	}
	offsets[self] = layout.XRefOffset
	w.Objects[self] = &generic.IndirectObject{ObjectNumber: self}
	defer delete(w.Objects, self)

	data, widths, index := reader.EncodeXRefStream(w.subsections(append(nums, self), offsets))
	encoded, err := filters.FlateDecodeFilter{}.Encode(data, filters.Params{})
	if err != nil {
		return err
	}

	dict := generic.NewDictionary()
	if err := w.populateTrailer(dict, self+1); err != nil {
		return err
	}
	dict.Set("Type", generic.NameObject("XRef"))
	dict.Set("W", widths)
	dict.Set("Index", index)
	dict.Set("Filter", generic.NameObject("FlateDecode"))

	ind := &generic.IndirectObject{ObjectNumber: self, Object: generic.NewStream(dict, encoded)}
	if err := writeIndirect(buf, ind); err != nil {
		return err
	}
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", layout.XRefOffset)
	return nil
}
